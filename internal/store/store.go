// Package store persists threads, their correlation tags and their
// append-only event history.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a thread does not exist.
	ErrNotFound = errors.New("store: thread not found")
	// ErrInvalidTransition is returned when a lifecycle change is not legal
	// from the thread's current status.
	ErrInvalidTransition = errors.New("store: invalid status transition")
	// ErrDuplicateDelivery is returned by AddMessage when an event carrying
	// the same delivery id is already stored.
	ErrDuplicateDelivery = errors.New("store: delivery already recorded")
)

// Store is the relational thread store.
type Store struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() string
}

// Opts holds parameters for creating a Store.
type Opts struct {
	DB    *gorm.DB
	Now   func() time.Time // defaults to time.Now
	NewID func() string    // defaults to uuid.NewString
}

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	s := &Store{db: opts.DB, now: opts.Now, newID: opts.NewID}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// normalizeTags trims, drops empties and removes duplicates, keeping the
// first occurrence order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
