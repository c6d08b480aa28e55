package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/thread"
	"gorm.io/gorm"
)

// transition moves a thread to status `to` when its current status is one
// of from. It is a single conditional UPDATE, so racing writers cannot
// leave the thread in an illegal state. It reports whether the row changed;
// a thread already in `to` is unchanged and not an error.
func (s *Store) transition(ctx context.Context, id string, to thread.Status, from []thread.Status, extra map[string]interface{}) (bool, error) {
	sources := make([]string, len(from))
	for i, f := range from {
		sources[i] = string(f)
	}
	fields := map[string]interface{}{
		"status":     string(to),
		"updated_at": s.now(),
	}
	for k, v := range extra {
		fields[k] = v
	}

	db := s.db.WithContext(ctx)
	res := db.Model(&models.Thread{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("store: set %s status %s: %w", id, to, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var cur models.Thread
	err := db.Select("id", "status").Where("id = ?", id).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("store: set %s status %s: %w", id, to, err)
	}
	if thread.Status(cur.Status) == to {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
}

// CloseConversation stops the thread and records closed_at. Already stopped
// threads are left as they are; archived threads are rejected.
func (s *Store) CloseConversation(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, thread.StatusStopped, thread.Sources(thread.StatusStopped),
		map[string]interface{}{"closed_at": s.now()})
}

// ReopenConversation moves a stopped thread back to paused and clears
// closed_at.
func (s *Store) ReopenConversation(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, thread.StatusPaused, []thread.Status{thread.StatusStopped},
		map[string]interface{}{"closed_at": nil})
}

// ArchiveConversation hides a stopped or paused thread from matching.
func (s *Store) ArchiveConversation(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, thread.StatusArchived, thread.Sources(thread.StatusArchived),
		map[string]interface{}{"archived_at": s.now()})
}

// UnarchiveConversation returns an archived thread to paused and clears both
// archived_at and closed_at.
func (s *Store) UnarchiveConversation(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, thread.StatusPaused, []thread.Status{thread.StatusArchived},
		map[string]interface{}{"archived_at": nil, "closed_at": nil})
}

// StartRun marks the thread active for an agent invocation. Only open and
// paused threads may start.
func (s *Store) StartRun(ctx context.Context, id string) (bool, error) {
	changed, err := s.transition(ctx, id, thread.StatusActive, thread.Sources(thread.StatusActive), nil)
	if err == nil && !changed {
		// Already active: another invocation holds the thread.
		return false, fmt.Errorf("%w: thread %s is already active", ErrInvalidTransition, id)
	}
	return changed, err
}

// FinishRun returns an active thread to paused. A thread that was closed or
// archived while the agent ran keeps that status.
func (s *Store) FinishRun(ctx context.Context, id string) (bool, error) {
	changed, err := s.transition(ctx, id, thread.StatusPaused, []thread.Status{thread.StatusActive}, nil)
	if errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	return changed, err
}

// SetStatus applies any legal transition to `to`, with the timestamp side
// effects of the matching dedicated method.
func (s *Store) SetStatus(ctx context.Context, id string, to thread.Status) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	var extra map[string]interface{}
	switch to {
	case thread.StatusStopped:
		extra = map[string]interface{}{"closed_at": s.now()}
	case thread.StatusArchived:
		extra = map[string]interface{}{"archived_at": s.now()}
	case thread.StatusPaused:
		extra = map[string]interface{}{"archived_at": nil, "closed_at": nil}
	}
	return s.transition(ctx, id, to, thread.Sources(to), extra)
}
