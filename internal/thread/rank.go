package thread

import (
	"sort"

	"github.com/gigiforge/gigi/internal/models"
)

// statusScore ranks lifecycle states for matching. Unknown or legacy values
// fall to zero.
var statusScore = map[Status]int{
	StatusOpen:     0,
	StatusPaused:   5,
	StatusActive:   10,
	StatusStopped:  1,
	StatusArchived: 0,
}

// channelScore ranks origin channels. Any channel not listed scores zero.
var channelScore = map[string]int{
	ChannelWeb: 3,
}

// Score returns the match score for a thread with the given status and
// origin channel. Status always dominates channel.
func Score(status, channel string) int {
	return statusScore[Status(status)] + channelScore[channel]
}

// Live reports whether t may be returned by matching.
func Live(t *models.Thread) bool {
	return t.ArchivedAt == nil && Status(t.Status) != StatusArchived
}

// Rank returns the live candidates ordered best first: highest score, then
// most recently updated, then lowest id. The input is not modified.
func Rank(candidates []models.Thread) []models.Thread {
	ranked := make([]models.Thread, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !Live(&c) || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		sa, sb := Score(a.Status, a.OriginChannel), Score(b.Status, b.OriginChannel)
		if sa != sb {
			return sa > sb
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return ranked
}

// Best returns the top-ranked live candidate, or nil when there is none.
func Best(candidates []models.Thread) *models.Thread {
	ranked := Rank(candidates)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}
