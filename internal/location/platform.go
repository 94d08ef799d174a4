package location

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WatchID identifies a platform watch subscription.
type WatchID int64

// Reading is a raw fix as the platform reports it.
type Reading struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Timestamp time.Time
}

// PermissionStatus mirrors the states a permissions query can report.
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
	PermissionPrompt  PermissionStatus = "prompt"
)

// ErrPermissionQueryUnsupported is returned by platforms that cannot report
// permission state without attempting an acquisition.
var ErrPermissionQueryUnsupported = errors.New("permission query not supported")

// Platform is the device geolocation API the provider wraps.
type Platform interface {
	// Supported reports whether the device has any positioning capability.
	Supported() bool
	// SecureContext reports whether the caller runs over TLS or localhost.
	SecureContext() bool
	// CurrentPosition blocks until a fix, an error or ctx is done. Some
	// platforms ignore ctx entirely; the provider does not rely on it.
	CurrentPosition(ctx context.Context) (Reading, error)
	// WatchPosition subscribes to continuous fixes and returns immediately.
	// Callbacks for one watch are never invoked concurrently.
	WatchPosition(onReading func(Reading), onError func(error)) (WatchID, error)
	// ClearWatch releases the subscription.
	ClearWatch(id WatchID)
	// QueryPermission returns ErrPermissionQueryUnsupported when the
	// platform has no permissions API.
	QueryPermission(ctx context.Context) (PermissionStatus, error)
}

// PositionErrorCode follows the W3C geolocation error codes.
type PositionErrorCode int

const (
	CodePermissionDenied    PositionErrorCode = 1
	CodePositionUnavailable PositionErrorCode = 2
	CodeTimeout             PositionErrorCode = 3
)

// PositionError is what a platform reports when a fix fails.
type PositionError struct {
	Code    PositionErrorCode
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}
