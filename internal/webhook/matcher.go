package webhook

import (
	"context"
	"fmt"

	"github.com/gigiforge/gigi/internal/models"
	"github.com/gigiforge/gigi/internal/thread"
)

// TagFinder looks threads up by tag.
type TagFinder interface {
	FindByTags(ctx context.Context, tags []string) ([]models.Thread, error)
}

// Matcher picks the canonical thread for a tag set.
type Matcher struct {
	finder TagFinder
}

// NewMatcher creates a Matcher.
func NewMatcher(finder TagFinder) *Matcher {
	return &Matcher{finder: finder}
}

// FindThread returns the best live thread for tags, or nil. Specific tags
// are tried first; general tags are consulted only when no specific tag
// matches a live thread. Candidates from the two tiers are never mixed.
func (m *Matcher) FindThread(ctx context.Context, tags []string) (*models.Thread, error) {
	specific, general := splitTags(tags)
	return m.firstTier(ctx, specific, general)
}

// FindSpecificThread is FindThread restricted to the specific tier. A newly
// opened issue must not land in another issue's thread through the shared
// repository tag.
func (m *Matcher) FindSpecificThread(ctx context.Context, tags []string) (*models.Thread, error) {
	specific, _ := splitTags(tags)
	return m.firstTier(ctx, specific)
}

func (m *Matcher) firstTier(ctx context.Context, tiers ...[]string) (*models.Thread, error) {
	for _, tier := range tiers {
		if len(tier) == 0 {
			continue
		}
		candidates, err := m.finder.FindByTags(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("webhook: find thread: %w", err)
		}
		if best := thread.Best(candidates); best != nil {
			return best, nil
		}
	}
	return nil, nil
}
