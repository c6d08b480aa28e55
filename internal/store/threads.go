package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/thread"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateOpts describes a new thread.
type CreateOpts struct {
	Channel string // origin channel, required
	Topic   string
	Repo    string
	Tags    []string
}

// CreateConversation creates a thread in the open state together with its
// initial tags.
func (s *Store) CreateConversation(ctx context.Context, opts CreateOpts) (*models.Thread, error) {
	if strings.TrimSpace(opts.Channel) == "" {
		return nil, fmt.Errorf("store: create conversation: channel is required")
	}
	now := s.now()
	t := &models.Thread{
		ID:            s.newID(),
		OriginChannel: opts.Channel,
		Topic:         opts.Topic,
		Status:        string(thread.StatusOpen),
		Repo:          opts.Repo,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, tag := range normalizeTags(opts.Tags) {
		t.Tags = append(t.Tags, models.ThreadTag{ThreadID: t.ID, Tag: tag, CreatedAt: now})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tags", "Events").Create(t).Error; err != nil {
			return err
		}
		if len(t.Tags) > 0 {
			return tx.Create(&t.Tags).Error
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return t, nil
}

// GetConversation loads a thread with its tags. Returns ErrNotFound when the
// thread does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.WithContext(ctx).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tag") }).
		Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation %s: %w", id, err)
	}
	return &t, nil
}

// ThreadUpdate lists the mutable display fields of a thread. Nil fields are
// left untouched. Status is changed only through the lifecycle methods.
type ThreadUpdate struct {
	Topic *string
	Repo  *string
}

// UpdateConversation applies the non-nil fields of u.
func (s *Store) UpdateConversation(ctx context.Context, id string, u ThreadUpdate) error {
	fields := map[string]interface{}{"updated_at": s.now()}
	if u.Topic != nil {
		fields["topic"] = *u.Topic
	}
	if u.Repo != nil {
		fields["repo"] = *u.Repo
	}
	res := s.db.WithContext(ctx).Model(&models.Thread{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("store: update conversation %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTags unions tags into the thread's tag set. Tags already present are
// ignored.
func (s *Store) AddTags(ctx context.Context, id string, tags []string) error {
	tags = normalizeTags(tags)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Thread{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if len(tags) == 0 {
			return nil
		}
		now := s.now()
		rows := make([]models.ThreadTag, len(tags))
		for i, tag := range tags {
			rows[i] = models.ThreadTag{ThreadID: id, Tag: tag, CreatedAt: now}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("store: add tags to %s: %w", id, err)
	}
	return nil
}

// FindByTag returns every thread carrying tag, archived ones included.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]models.Thread, error) {
	return s.FindByTags(ctx, []string{tag})
}

// FindByTags returns every thread carrying at least one of tags, each thread
// once, archived ones included.
func (s *Store) FindByTags(ctx context.Context, tags []string) ([]models.Thread, error) {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return nil, nil
	}
	var threads []models.Thread
	sub := s.db.Model(&models.ThreadTag{}).Select("thread_id").Where("tag IN ?", tags)
	err := s.db.WithContext(ctx).Where("id IN (?)", sub).Order("id").Find(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("store: find by tags: %w", err)
	}
	return threads, nil
}

// ListOpts filters ListConversations.
type ListOpts struct {
	Status          string
	Channel         string
	Repo            string
	Tag             string
	IncludeArchived bool
	Limit           int
}

// ListConversations returns threads, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, opts ListOpts) ([]models.Thread, error) {
	q := s.db.WithContext(ctx).Model(&models.Thread{}).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tag") })
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	} else if !opts.IncludeArchived {
		q = q.Where("status <> ?", string(thread.StatusArchived))
	}
	if opts.Channel != "" {
		q = q.Where("origin_channel = ?", opts.Channel)
	}
	if opts.Repo != "" {
		q = q.Where("repo = ?", opts.Repo)
	}
	if opts.Tag != "" {
		q = q.Where("id IN (?)", s.db.Model(&models.ThreadTag{}).Select("thread_id").Where("tag = ?", opts.Tag))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var threads []models.Thread
	if err := q.Order("updated_at DESC").Order("id").Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return threads, nil
}
