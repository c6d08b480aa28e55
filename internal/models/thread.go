package models

import (
	"time"

	"gorm.io/datatypes"
)

// Thread is a conversation correlated to zero or more forge references.
type Thread struct {
	ID            string `gorm:"primaryKey;size:36"`
	OriginChannel string `gorm:"size:16;not null;index"` // "web", "webhook", "telegram", ...
	Topic         string `gorm:"size:512"`
	Status        string `gorm:"size:16;default:open;index"`
	Repo          string `gorm:"size:128;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
	ArchivedAt    *time.Time

	Tags   []ThreadTag   `gorm:"foreignKey:ThreadID"`
	Events []ThreadEvent `gorm:"foreignKey:ThreadID"`
}

// TagNames returns the thread's tags as plain strings.
func (t *Thread) TagNames() []string {
	names := make([]string, len(t.Tags))
	for i, tag := range t.Tags {
		names[i] = tag.Tag
	}
	return names
}

// ThreadTag is one correlation tag on a thread. The composite primary key
// makes the tag set duplicate-free.
type ThreadTag struct {
	ThreadID  string `gorm:"primaryKey;size:36"`
	Tag       string `gorm:"primaryKey;size:191;index"`
	CreatedAt time.Time
}

// ThreadEvent is an immutable, append-only message in a thread.
type ThreadEvent struct {
	ID          uint              `gorm:"primaryKey;autoIncrement"`
	ThreadID    string            `gorm:"size:36;not null;uniqueIndex:idx_thread_seq"`
	Sequence    int               `gorm:"not null;uniqueIndex:idx_thread_seq"`
	Role        string            `gorm:"size:16;not null"` // "system", "user", "assistant"
	Content     string            `gorm:"type:mediumtext"`
	MessageType string            `gorm:"size:32;index"`
	DeliveryID  *string           `gorm:"size:64;uniqueIndex"`
	Extras      datatypes.JSONMap `gorm:"type:json"`
	CreatedAt   time.Time
}
