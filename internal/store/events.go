package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gigiforge/gigi/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageOpts describes an event to append.
type MessageOpts struct {
	Role        string
	Content     string
	MessageType string
	DeliveryID  string // optional; unique across all events
	Extras      map[string]interface{}
}

// AddMessage appends an event to the thread and bumps the thread's
// updated_at. The sequence number is assigned inside the same transaction,
// after the thread row update, so concurrent appends to one thread are
// serialized by the database.
func (s *Store) AddMessage(ctx context.Context, threadID string, opts MessageOpts) (*models.ThreadEvent, error) {
	if opts.Role == "" {
		return nil, fmt.Errorf("store: add message: role is required")
	}
	now := s.now()
	ev := &models.ThreadEvent{
		ThreadID:    threadID,
		Role:        opts.Role,
		Content:     opts.Content,
		MessageType: opts.MessageType,
		CreatedAt:   now,
	}
	if opts.DeliveryID != "" {
		id := opts.DeliveryID
		ev.DeliveryID = &id
	}
	if len(opts.Extras) > 0 {
		ev.Extras = datatypes.JSONMap(opts.Extras)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Thread{}).Where("id = ?", threadID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if ev.DeliveryID != nil {
			var n int64
			if err := tx.Model(&models.ThreadEvent{}).Where("delivery_id = ?", *ev.DeliveryID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrDuplicateDelivery
			}
		}
		var maxSeq int
		if err := tx.Model(&models.ThreadEvent{}).Where("thread_id = ?", threadID).
			Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		ev.Sequence = maxSeq + 1
		return tx.Create(ev).Error
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateDelivery) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: add message to %s: %w", threadID, err)
	}
	return ev, nil
}

// MessageQuery filters ListMessages.
type MessageQuery struct {
	AfterSequence int // only events with a greater sequence
	Limit         int // 0 means all
}

// ListMessages returns the thread's events in append order.
func (s *Store) ListMessages(ctx context.Context, threadID string, q MessageQuery) ([]models.ThreadEvent, error) {
	db := s.db.WithContext(ctx).Where("thread_id = ?", threadID)
	if q.AfterSequence > 0 {
		db = db.Where("sequence > ?", q.AfterSequence)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var events []models.ThreadEvent
	if err := db.Order("sequence").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("store: list messages for %s: %w", threadID, err)
	}
	return events, nil
}

// HasDelivery reports whether an event with deliveryID is already stored.
func (s *Store) HasDelivery(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ThreadEvent{}).
		Where("delivery_id = ?", deliveryID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("store: has delivery: %w", err)
	}
	return n > 0, nil
}
