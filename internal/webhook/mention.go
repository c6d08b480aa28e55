package webhook

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gigiforge/gigi/internal/forge"
)

// MentionGate decides whether a comment addresses the agent.
type MentionGate struct {
	login   string
	pattern *regexp.Regexp
}

// NewMentionGate creates a gate for the agent's mention handle (with or
// without "@") and the forge login the agent comments as.
func NewMentionGate(handle, login string) (*MentionGate, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, fmt.Errorf("webhook: mention handle is required")
	}
	if login == "" {
		login = handle
	}
	// The handle must not be glued to a preceding word (emails) or continue
	// into a longer login.
	re, err := regexp.Compile(`(?i)(^|[^\w@.])@` + regexp.QuoteMeta(handle) + `\b([^-\w]|$)`)
	if err != nil {
		return nil, fmt.Errorf("webhook: mention pattern: %w", err)
	}
	return &MentionGate{login: login, pattern: re}, nil
}

// isCommentCreation reports whether eventType/action is a newly created
// comment.
func isCommentCreation(eventType, action string) bool {
	switch eventType {
	case forge.EventIssueComment, forge.EventPRReviewComment:
		return action == "created"
	case forge.EventPullRequest:
		return action == "commented" || action == forge.ActionReviewed
	}
	return false
}

// ShouldInvokeAgent reports whether a comment event mentions the agent and
// was not written by the agent itself.
func (g *MentionGate) ShouldInvokeAgent(eventType, action, comment, author string) bool {
	if !isCommentCreation(eventType, action) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(author), g.login) {
		return false
	}
	return g.pattern.MatchString(comment)
}

// StripMention removes every mention token of the agent from comment.
func (g *MentionGate) StripMention(comment string) string {
	// Adjacent mentions share a separator, so one pass can miss the second.
	for i := 0; i < 8 && g.pattern.MatchString(comment); i++ {
		comment = g.pattern.ReplaceAllString(comment, "$1$2")
	}
	return strings.TrimSpace(comment)
}
