// Package memory keeps notices in process memory for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

// NoticeStore is a map-backed notice.Store.
type NoticeStore struct {
	mu      sync.RWMutex
	notices map[int64]notice.Notice
}

// NewNoticeStore constructs an empty NoticeStore.
func NewNoticeStore() *NoticeStore {
	return &NoticeStore{notices: make(map[int64]notice.Notice)}
}

// Exists reports whether id was inserted before.
func (s *NoticeStore) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.notices[id]
	return ok, nil
}

// Insert stores n, failing with notice.ErrDuplicateKey if its id is taken.
func (s *NoticeStore) Insert(_ context.Context, n notice.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notices[n.ID]; ok {
		return fmt.Errorf("insert notice %d: %w", n.ID, notice.ErrDuplicateKey)
	}
	s.notices[n.ID] = n
	return nil
}

// ListByDate returns the notices posted on date, newest id first.
func (s *NoticeStore) ListByDate(_ context.Context, date string) ([]notice.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notice.Notice, 0)
	for _, n := range s.notices {
		if n.Date == date {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b notice.Notice) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// DeleteByDate removes every notice posted on date.
func (s *NoticeStore) DeleteByDate(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, n := range s.notices {
		if n.Date == date {
			delete(s.notices, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored notices.
func (s *NoticeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notices)
}

// Migrate is a no-op.
func (s *NoticeStore) Migrate(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *NoticeStore) Close() error {
	return nil
}
