package webhook

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/gigiforge/gigi/internal/forge"
)

// RefType is the kind of forge object a reference points at.
type RefType string

const (
	RefIssue RefType = "issue"
	RefPR    RefType = "pr"
)

// Ref identifies one issue or pull request in a repository.
type Ref struct {
	Repo   string
	Type   RefType
	Number int
}

// Key renders the ref as "repo#N".
func (r Ref) Key() string {
	return fmt.Sprintf("%s#%d", r.Repo, r.Number)
}

// issueRefRe finds "#N" references in commit messages.
var issueRefRe = regexp.MustCompile(`(?:^|[^\w/])#(\d+)\b`)

// ExtractRefs returns the forge references an event is about. Events without
// a repository name or a positive number yield none.
func ExtractRefs(ev *forge.Event) []Ref {
	if ev == nil || ev.Repo == "" {
		return nil
	}

	var ref Ref
	switch ev.Type {
	case forge.EventIssues, forge.EventIssueComment:
		ref = Ref{Repo: ev.Repo, Type: RefIssue, Number: ev.Number}
		if ev.IsPR {
			ref.Type = RefPR
		}
	case forge.EventPullRequest, forge.EventPRReviewComment:
		ref = Ref{Repo: ev.Repo, Type: RefPR, Number: ev.Number}
	case forge.EventPush:
		m := issueRefRe.FindStringSubmatch(ev.HeadCommit)
		if m == nil {
			return nil
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		ref = Ref{Repo: ev.Repo, Type: RefIssue, Number: n}
	default:
		return nil
	}

	if ref.Number <= 0 {
		return nil
	}
	return []Ref{ref}
}
