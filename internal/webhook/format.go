package webhook

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gigiforge/gigi/internal/forge"
)

// maxSnippet bounds comment and commit excerpts in system events.
const maxSnippet = 280

// FormatTopic returns the thread topic for an issue or PR event, e.g.
// "Issue gigi#42: New feature".
func FormatTopic(ev *forge.Event) string {
	if ev.Title == "" {
		return ev.Target()
	}
	return fmt.Sprintf("%s: %s", ev.Target(), ev.Title)
}

// actionVerb maps a forge action to the verb used in system events.
func actionVerb(ev *forge.Event) string {
	switch {
	case ev.Action == "closed" && ev.Merged:
		return "merged"
	case ev.Action == "synchronize" || ev.Action == "synchronized":
		return "updated"
	case ev.Action == "":
		return "updated"
	default:
		return ev.Action
	}
}

// FormatEvent renders the system event text describing a forge event.
func FormatEvent(ev *forge.Event) string {
	switch ev.Type {
	case forge.EventPush:
		s := fmt.Sprintf("%s pushed %d commit(s) to %s", ev.Author, ev.Commits, strings.TrimPrefix(ev.Ref, "refs/heads/"))
		if line := firstLine(ev.HeadCommit); line != "" {
			s += ": " + truncate(line, maxSnippet)
		}
		return s
	case forge.EventIssueComment, forge.EventPRReviewComment:
		return fmt.Sprintf("%s commented on %s: %s", commentAuthor(ev), ev.Target(), truncate(commentBody(ev), maxSnippet))
	}
	if ev.Action == forge.ActionReviewed || ev.Action == "commented" {
		s := fmt.Sprintf("%s %s %s", commentAuthor(ev), ev.Action, ev.Target())
		if body := commentBody(ev); body != "" {
			s += ": " + truncate(body, maxSnippet)
		}
		return s
	}
	s := fmt.Sprintf("%s %s by %s", ev.Target(), actionVerb(ev), ev.Author)
	if ev.Title != "" {
		s += ": " + ev.Title
	}
	return s
}

// FormatMention renders the user event stored for a mention: a bracketed
// context line followed by the comment with the mention removed.
func FormatMention(ev *forge.Event, stripped string) string {
	verb := "commented on"
	if ev.Action == forge.ActionReviewed {
		verb = "reviewed"
	}
	ctx := fmt.Sprintf("[%s %s %s", commentAuthor(ev), verb, ev.Target())
	if ev.Title != "" {
		ctx += fmt.Sprintf(" %q", ev.Title)
	}
	ctx += "]"
	if stripped == "" {
		return ctx
	}
	return ctx + "\n" + stripped
}

func commentAuthor(ev *forge.Event) string {
	if ev.Comment != nil && ev.Comment.Author != "" {
		return ev.Comment.Author
	}
	return ev.Author
}

func commentBody(ev *forge.Event) string {
	if ev.Comment == nil {
		return ""
	}
	return strings.TrimSpace(ev.Comment.Body)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
