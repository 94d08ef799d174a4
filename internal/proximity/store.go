package proximity

import (
	"context"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
)

// UserRecord is a user row as the record store returns it.
type UserRecord struct {
	ID          string
	DisplayName string
	Bucket      *geo.Bucket
	UpdatedAt   time.Time
}

// RecordStore is the external user store. Writes are last-writer-wins per
// user; no transactions are expected.
type RecordStore interface {
	UpdateUserLocation(ctx context.Context, userID string, bucket geo.Bucket) error
	QueryUsersByBucket(ctx context.Context, bucket geo.Bucket, excludeUserID string, limit int) ([]UserRecord, error)
	QueryAllUsers(ctx context.Context, excludeUserID string, limit int) ([]UserRecord, error)
	// GetUserLocation returns the last stored bucket for a user, or nil.
	GetUserLocation(ctx context.Context, userID string) (*geo.Bucket, error)
	UpsertUser(ctx context.Context, userID, displayName string) error
}
