// Package forge normalizes git-forge webhook payloads (GitHub and Gitea)
// into a single Event shape, verifies delivery signatures and posts
// replies back through the forge REST API.
package forge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
)

// ErrUnsupportedEvent is returned by ParseEvent for event types that carry
// nothing to correlate.
var ErrUnsupportedEvent = errors.New("forge: unsupported event type")

// Canonical event types.
const (
	EventIssues            = "issues"
	EventIssueComment      = "issue_comment"
	EventPullRequest       = "pull_request"
	EventPRReviewComment   = "pull_request_review_comment"
	EventPullRequestReview = "pull_request_review"
	EventPush              = "push"
)

// ActionReviewed is the action given to review submissions, which Gitea
// delivers as their own event types.
const ActionReviewed = "reviewed"

// giteaAliases maps Gitea-only event names to the canonical type and, when
// set, the action to report.
var giteaAliases = map[string]struct{ typ, action string }{
	"pull_request_comment":         {EventIssueComment, ""},
	"pull_request_review_approved": {EventPullRequest, ActionReviewed},
	"pull_request_review_rejected": {EventPullRequest, ActionReviewed},
	"pull_request_review_comment":  {EventPullRequest, ActionReviewed},
}

// Comment is the comment or review body carried by an event.
type Comment struct {
	Body   string
	Author string
	URL    string
}

// Event is a forge webhook payload reduced to what correlation needs.
type Event struct {
	Type   string // canonical type, aliases resolved
	Action string

	Owner string
	Repo  string // short repository name, used for tags
	// FullName is "owner/repo".
	FullName string

	Number int
	Title  string
	URL    string
	IsPR   bool
	Merged bool
	Author string // sender login

	Comment *Comment

	// Push only.
	Ref        string
	HeadCommit string
	Commits    int
}

// auxPayload picks up fields go-github does not model: Gitea review bodies
// on pull_request events and the Gitea is_pull flag on issue comments.
type auxPayload struct {
	IsPull bool `json:"is_pull"`
	Review *struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"review"`
	Comment *struct {
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		User    *struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
}

// ParseEvent decodes a webhook payload of the given event type. Unknown types
// return ErrUnsupportedEvent; malformed payloads return a decode error.
// ParseEvent never panics on hostile input.
func ParseEvent(eventType string, payload []byte) (ev *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev, err = nil, fmt.Errorf("forge: parse %s: %v", eventType, r)
		}
	}()

	var aux auxPayload
	if err := json.Unmarshal(payload, &aux); err != nil {
		return nil, fmt.Errorf("forge: parse %s: %w", eventType, err)
	}

	typ, forcedAction := eventType, ""
	if alias, ok := giteaAliases[eventType]; ok && isGiteaAlias(eventType, &aux) {
		typ, forcedAction = alias.typ, alias.action
	}

	switch typ {
	case EventIssues, EventIssueComment, EventPullRequest, EventPRReviewComment, EventPullRequestReview, EventPush:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
	}

	raw, err := github.ParseWebHook(typ, payload)
	if err != nil {
		return nil, fmt.Errorf("forge: parse %s: %w", eventType, err)
	}

	switch e := raw.(type) {
	case *github.IssuesEvent:
		ev = fromIssue(EventIssues, e.GetAction(), e.GetIssue(), e.GetRepo(), e.GetSender())
	case *github.IssueCommentEvent:
		ev = fromIssue(EventIssueComment, e.GetAction(), e.GetIssue(), e.GetRepo(), e.GetSender())
		ev.IsPR = ev.IsPR || aux.IsPull
		ev.Comment = &Comment{
			Body:   e.GetComment().GetBody(),
			Author: e.GetComment().GetUser().GetLogin(),
			URL:    e.GetComment().GetHTMLURL(),
		}
	case *github.PullRequestEvent:
		ev = fromPR(EventPullRequest, e.GetAction(), e.GetPullRequest(), e.GetRepo(), e.GetSender())
		if ev.Number == 0 {
			ev.Number = e.GetNumber()
		}
		switch {
		case aux.Review != nil:
			ev.Comment = &Comment{Body: aux.Review.Content, Author: ev.Author}
		case aux.Comment != nil:
			ev.Comment = &Comment{Body: aux.Comment.Body, URL: aux.Comment.HTMLURL, Author: ev.Author}
			if aux.Comment.User != nil && aux.Comment.User.Login != "" {
				ev.Comment.Author = aux.Comment.User.Login
			}
		}
	case *github.PullRequestReviewCommentEvent:
		ev = fromPR(EventPRReviewComment, e.GetAction(), e.GetPullRequest(), e.GetRepo(), e.GetSender())
		ev.Comment = &Comment{
			Body:   e.GetComment().GetBody(),
			Author: e.GetComment().GetUser().GetLogin(),
			URL:    e.GetComment().GetHTMLURL(),
		}
	case *github.PullRequestReviewEvent:
		// A submitted review reads like Gitea's review events.
		ev = fromPR(EventPullRequest, ActionReviewed, e.GetPullRequest(), e.GetRepo(), e.GetSender())
		ev.Comment = &Comment{
			Body:   e.GetReview().GetBody(),
			Author: e.GetReview().GetUser().GetLogin(),
			URL:    e.GetReview().GetHTMLURL(),
		}
	case *github.PushEvent:
		repo := e.GetRepo()
		ev = &Event{
			Type:       EventPush,
			Owner:      repo.GetOwner().GetLogin(),
			Repo:       repo.GetName(),
			FullName:   repo.GetFullName(),
			Author:     e.GetSender().GetLogin(),
			Ref:        e.GetRef(),
			HeadCommit: e.GetHeadCommit().GetMessage(),
			URL:        e.GetHeadCommit().GetURL(),
			Commits:    len(e.Commits),
		}
		if ev.HeadCommit == "" && len(e.Commits) > 0 {
			// Gitea omits head_commit on some versions.
			ev.HeadCommit = e.Commits[len(e.Commits)-1].GetMessage()
		}
		if ev.Author == "" {
			ev.Author = e.GetPusher().GetName()
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
	}

	if forcedAction != "" {
		ev.Action = forcedAction
	}
	if ev.Comment != nil && ev.Comment.Author == "" {
		ev.Comment.Author = ev.Author
	}
	if ev.FullName == "" && ev.Owner != "" && ev.Repo != "" {
		ev.FullName = ev.Owner + "/" + ev.Repo
	}
	if ev.Owner == "" {
		if i := strings.Index(ev.FullName, "/"); i > 0 {
			ev.Owner = ev.FullName[:i]
		}
	}
	return ev, nil
}

// isGiteaAlias reports whether an aliased event name carries a Gitea payload.
// GitHub also sends pull_request_review_comment, with a real comment object
// and no review.
func isGiteaAlias(eventType string, aux *auxPayload) bool {
	if eventType == EventPRReviewComment {
		return aux.Comment == nil && aux.Review != nil
	}
	return true
}

func fromIssue(typ, action string, issue *github.Issue, repo *github.Repository, sender *github.User) *Event {
	return &Event{
		Type:     typ,
		Action:   action,
		Owner:    repo.GetOwner().GetLogin(),
		Repo:     repo.GetName(),
		FullName: repo.GetFullName(),
		Number:   issue.GetNumber(),
		Title:    issue.GetTitle(),
		URL:      issue.GetHTMLURL(),
		IsPR:     issue.IsPullRequest(),
		Author:   sender.GetLogin(),
	}
}

func fromPR(typ, action string, pr *github.PullRequest, repo *github.Repository, sender *github.User) *Event {
	return &Event{
		Type:     typ,
		Action:   action,
		Owner:    repo.GetOwner().GetLogin(),
		Repo:     repo.GetName(),
		FullName: repo.GetFullName(),
		Number:   pr.GetNumber(),
		Title:    pr.GetTitle(),
		URL:      pr.GetHTMLURL(),
		IsPR:     true,
		Merged:   pr.GetMerged(),
		Author:   sender.GetLogin(),
	}
}

// Target renders "Issue repo#N" or "PR repo#N" for the event's subject.
func (e *Event) Target() string {
	kind := "Issue"
	if e.IsPR {
		kind = "PR"
	}
	return fmt.Sprintf("%s %s#%d", kind, e.Repo, e.Number)
}
