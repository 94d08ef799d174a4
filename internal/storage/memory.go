package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/dhconnelly/rtreego"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50
)

// bucketItem indexes one user's bucket center in the R-tree.
type bucketItem struct {
	userID string
	rect   *rtreego.Rect
}

func (i *bucketItem) Bounds() *rtreego.Rect {
	return i.rect
}

type memoryUser struct {
	record proximity.UserRecord
	item   *bucketItem
}

// MemoryRecordStore is an in-process store backed by an R-tree of bucket
// centers. Used for development and tests.
type MemoryRecordStore struct {
	mu    sync.RWMutex
	tree  *rtreego.Rtree
	users map[string]*memoryUser
	now   func() time.Time
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		tree:  rtreego.NewTree(dimensions, minChildren, maxChildren),
		users: make(map[string]*memoryUser),
		now:   time.Now,
	}
}

var _ proximity.RecordStore = (*MemoryRecordStore)(nil)

func (s *MemoryRecordStore) UpsertUser(ctx context.Context, userID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	u.record.DisplayName = displayName
	return nil
}

func (s *MemoryRecordStore) UpdateUserLocation(ctx context.Context, userID string, bucket geo.Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	if u.item != nil {
		s.tree.Delete(u.item)
	}

	b := bucket
	u.record.Bucket = &b
	u.record.UpdatedAt = s.now()
	u.item = &bucketItem{
		userID: userID,
		rect:   rtreego.Point{b.Latitude(), b.Longitude()}.ToRect(b.HalfWidth() / 10),
	}
	s.tree.Insert(u.item)
	return nil
}

func (s *MemoryRecordStore) QueryUsersByBucket(ctx context.Context, bucket geo.Bucket, excludeUserID string, limit int) ([]proximity.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hw := bucket.HalfWidth()
	area, err := rtreego.NewRect(
		rtreego.Point{bucket.Latitude() - hw, bucket.Longitude() - hw},
		[]float64{2 * hw, 2 * hw},
	)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []proximity.UserRecord
	for _, hit := range s.tree.SearchIntersect(area) {
		item, ok := hit.(*bucketItem)
		if !ok || item.userID == excludeUserID {
			continue
		}
		u := s.users[item.userID]
		if u == nil || u.record.Bucket == nil || *u.record.Bucket != bucket {
			continue
		}
		records = append(records, copyRecord(u.record))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// QueryAllUsers lists users most recently updated first.
func (s *MemoryRecordStore) QueryAllUsers(ctx context.Context, excludeUserID string, limit int) ([]proximity.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	records := make([]proximity.UserRecord, 0, len(s.users))
	for id, u := range s.users {
		if id == excludeUserID {
			continue
		}
		records = append(records, copyRecord(u.record))
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].ID < records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryRecordStore) GetUserLocation(ctx context.Context, userID string) (*geo.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok || u.record.Bucket == nil {
		return nil, nil
	}
	b := *u.record.Bucket
	return &b, nil
}

// Size returns the number of indexed locations.
func (s *MemoryRecordStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Size()
}

// user returns the entry for userID, creating it. Callers hold mu.
func (s *MemoryRecordStore) user(userID string) *memoryUser {
	u, ok := s.users[userID]
	if !ok {
		u = &memoryUser{record: proximity.UserRecord{ID: userID, UpdatedAt: s.now()}}
		s.users[userID] = u
	}
	return u
}

func copyRecord(r proximity.UserRecord) proximity.UserRecord {
	if r.Bucket != nil {
		b := *r.Bucket
		r.Bucket = &b
	}
	return r
}
