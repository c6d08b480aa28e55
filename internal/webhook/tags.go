package webhook

import (
	"fmt"
	"strings"
)

// BuildTags returns the correlation tags for a ref: the repository, the
// specific "repo#N" tag and, for pull requests, "pr#N".
func BuildTags(ref Ref) []string {
	tags := []string{ref.Repo, ref.Key()}
	if ref.Type == RefPR {
		tags = append(tags, fmt.Sprintf("pr#%d", ref.Number))
	}
	return tags
}

// IsSpecificTag reports whether tag names one issue or PR rather than a
// whole repository.
func IsSpecificTag(tag string) bool {
	return strings.Contains(tag, "#")
}

// splitTags partitions tags into specific and general tiers.
func splitTags(tags []string) (specific, general []string) {
	for _, t := range tags {
		if IsSpecificTag(t) {
			specific = append(specific, t)
		} else {
			general = append(general, t)
		}
	}
	return specific, general
}
