package thread

import (
	"testing"
	"time"

	"github.com/gigiforge/gigi/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusActive, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusPaused, true},
		{StatusOpen, StatusStopped, true},
		{StatusActive, StatusStopped, true},
		{StatusPaused, StatusStopped, true},
		{StatusStopped, StatusArchived, true},
		{StatusPaused, StatusArchived, true},
		{StatusArchived, StatusPaused, true},
		{StatusStopped, StatusPaused, true},

		{StatusArchived, StatusActive, false},
		{StatusArchived, StatusStopped, false},
		{StatusStopped, StatusStopped, false},
		{StatusStopped, StatusActive, false},
		{StatusActive, StatusActive, false},
		{StatusOpen, StatusArchived, false},
		{StatusActive, StatusArchived, false},
		{StatusOpen, StatusPaused, false},
		{Status("legacy"), StatusActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCanInvoke(t *testing.T) {
	assert.True(t, CanInvoke(StatusOpen))
	assert.True(t, CanInvoke(StatusPaused))
	assert.False(t, CanInvoke(StatusActive))
	assert.False(t, CanInvoke(StatusStopped))
	assert.False(t, CanInvoke(StatusArchived))
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("closed").Valid())
}

func TestScore_Table(t *testing.T) {
	tests := []struct {
		status, channel string
		want            int
	}{
		{"open", "webhook", 0},
		{"paused", "webhook", 5},
		{"active", "webhook", 10},
		{"stopped", "webhook", 1},
		{"archived", "webhook", 0},
		{"open", "web", 3},
		{"paused", "web", 8},
		{"active", "telegram", 10},
		{"mystery", "web", 3},
		{"", "", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Score(tt.status, tt.channel), "%s/%s", tt.status, tt.channel)
	}
}

func TestScore_StatusDominatesChannel(t *testing.T) {
	assert.Greater(t, Score("active", "webhook"), Score("paused", "web"))
	assert.Greater(t, Score("paused", "web"), Score("paused", "webhook"))
}

func TestRank_DeterministicOrder(t *testing.T) {
	now := time.Now()
	candidates := []models.Thread{
		{ID: "c", Status: "stopped", OriginChannel: "web", UpdatedAt: now},
		{ID: "b", Status: "paused", OriginChannel: "webhook", UpdatedAt: now},
		{ID: "a", Status: "paused", OriginChannel: "web", UpdatedAt: now},
	}

	for i := 0; i < 5; i++ {
		ranked := Rank(candidates)
		require.Len(t, ranked, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	}
	assert.Equal(t, "c", candidates[0].ID, "input must not be reordered")
}

func TestRank_ExcludesArchived(t *testing.T) {
	archivedAt := time.Now()
	candidates := []models.Thread{
		{ID: "x", Status: "paused", OriginChannel: "web", ArchivedAt: &archivedAt},
		{ID: "y", Status: "archived", OriginChannel: "web"},
		{ID: "z", Status: "open", OriginChannel: "webhook"},
	}
	ranked := Rank(candidates)
	require.Len(t, ranked, 1)
	assert.Equal(t, "z", ranked[0].ID)
}

func TestRank_TieBreaks(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	candidates := []models.Thread{
		{ID: "old", Status: "paused", OriginChannel: "webhook", UpdatedAt: older},
		{ID: "new", Status: "paused", OriginChannel: "webhook", UpdatedAt: newer},
		{ID: "alpha", Status: "paused", OriginChannel: "webhook", UpdatedAt: older},
	}
	ranked := Rank(candidates)
	require.Len(t, ranked, 3)
	assert.Equal(t, "new", ranked[0].ID)
	assert.Equal(t, "alpha", ranked[1].ID)
	assert.Equal(t, "old", ranked[2].ID)
}

func TestRank_DropsDuplicateIDs(t *testing.T) {
	candidates := []models.Thread{
		{ID: "a", Status: "open"},
		{ID: "a", Status: "open"},
	}
	assert.Len(t, Rank(candidates), 1)
}

func TestBest(t *testing.T) {
	assert.Nil(t, Best(nil))

	best := Best([]models.Thread{
		{ID: "1", Status: "paused", OriginChannel: "web"},
		{ID: "2", Status: "active", OriginChannel: "webhook"},
	})
	require.NotNil(t, best)
	assert.Equal(t, "2", best.ID)
}
