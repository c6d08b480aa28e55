package forge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoJSON = `"repository": {"name": "gigi", "full_name": "acme/gigi", "owner": {"login": "acme"}}`

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ---- ParseEvent ----

func TestParseEvent_IssueOpened(t *testing.T) {
	payload := `{"action": "opened",
		"issue": {"number": 42, "title": "New feature", "html_url": "https://git/acme/gigi/issues/42"},
		` + repoJSON + `, "sender": {"login": "alice"}}`

	ev, err := ParseEvent("issues", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventIssues, ev.Type)
	assert.Equal(t, "opened", ev.Action)
	assert.Equal(t, "gigi", ev.Repo)
	assert.Equal(t, "acme", ev.Owner)
	assert.Equal(t, "acme/gigi", ev.FullName)
	assert.Equal(t, 42, ev.Number)
	assert.Equal(t, "New feature", ev.Title)
	assert.Equal(t, "alice", ev.Author)
	assert.False(t, ev.IsPR)
	assert.Nil(t, ev.Comment)
	assert.Equal(t, "Issue gigi#42", ev.Target())
}

func TestParseEvent_IssueCommentOnPR(t *testing.T) {
	payload := `{"action": "created",
		"issue": {"number": 7, "title": "Fix", "pull_request": {"url": "https://api/pulls/7"}},
		"comment": {"body": "@gigi please look", "user": {"login": "bob"}, "html_url": "https://git/c/1"},
		` + repoJSON + `, "sender": {"login": "bob"}}`

	ev, err := ParseEvent("issue_comment", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventIssueComment, ev.Type)
	assert.True(t, ev.IsPR)
	require.NotNil(t, ev.Comment)
	assert.Equal(t, "@gigi please look", ev.Comment.Body)
	assert.Equal(t, "bob", ev.Comment.Author)
	assert.Equal(t, "PR gigi#7", ev.Target())
}

func TestParseEvent_GiteaPullRequestComment(t *testing.T) {
	payload := `{"action": "created", "is_pull": true,
		"issue": {"number": 7, "title": "Fix", "pull_request": {"merged": false, "merged_at": null}},
		"comment": {"body": "hi", "user": {"login": "bob"}},
		` + repoJSON + `, "sender": {"login": "bob"}}`

	ev, err := ParseEvent("pull_request_comment", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventIssueComment, ev.Type)
	assert.Equal(t, "created", ev.Action)
	assert.True(t, ev.IsPR)
}

func TestParseEvent_PullRequestClosedMerged(t *testing.T) {
	payload := `{"action": "closed", "number": 7,
		"pull_request": {"number": 7, "title": "Fix", "merged": true},
		` + repoJSON + `, "sender": {"login": "carol"}}`

	ev, err := ParseEvent("pull_request", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventPullRequest, ev.Type)
	assert.Equal(t, "closed", ev.Action)
	assert.True(t, ev.IsPR)
	assert.True(t, ev.Merged)
	assert.Equal(t, 7, ev.Number)
}

func TestParseEvent_GiteaReviewAliases(t *testing.T) {
	payload := `{"action": "reviewed", "number": 7,
		"pull_request": {"number": 7, "title": "Fix"},
		"review": {"type": "pull_request_review_approved", "content": "LGTM @gigi"},
		` + repoJSON + `, "sender": {"login": "dave"}}`

	for _, typ := range []string{"pull_request_review_approved", "pull_request_review_rejected", "pull_request_review_comment"} {
		t.Run(typ, func(t *testing.T) {
			ev, err := ParseEvent(typ, []byte(payload))
			require.NoError(t, err)
			assert.Equal(t, EventPullRequest, ev.Type)
			assert.Equal(t, ActionReviewed, ev.Action)
			require.NotNil(t, ev.Comment)
			assert.Equal(t, "LGTM @gigi", ev.Comment.Body)
			assert.Equal(t, "dave", ev.Comment.Author)
		})
	}
}

func TestParseEvent_GitHubReviewComment(t *testing.T) {
	payload := `{"action": "created",
		"pull_request": {"number": 9, "title": "Refactor"},
		"comment": {"body": "nit", "user": {"login": "erin"}},
		` + repoJSON + `, "sender": {"login": "erin"}}`

	ev, err := ParseEvent("pull_request_review_comment", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventPRReviewComment, ev.Type)
	assert.Equal(t, "created", ev.Action)
	assert.Equal(t, 9, ev.Number)
	require.NotNil(t, ev.Comment)
	assert.Equal(t, "nit", ev.Comment.Body)
}

func TestParseEvent_GitHubReviewSubmitted(t *testing.T) {
	payload := `{"action": "submitted",
		"review": {"body": "looks good", "user": {"login": "erin"}},
		"pull_request": {"number": 9, "title": "Refactor"},
		` + repoJSON + `, "sender": {"login": "erin"}}`

	ev, err := ParseEvent("pull_request_review", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventPullRequest, ev.Type)
	assert.Equal(t, ActionReviewed, ev.Action)
	assert.Equal(t, "looks good", ev.Comment.Body)
}

func TestParseEvent_Push(t *testing.T) {
	payload := `{"ref": "refs/heads/main",
		"head_commit": {"message": "Fix crash, closes #12", "url": "https://git/commit/abc"},
		"commits": [{"message": "Fix crash, closes #12"}],
		"repository": {"name": "gigi", "full_name": "acme/gigi"},
		"sender": {"login": "frank"}}`

	ev, err := ParseEvent("push", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventPush, ev.Type)
	assert.Equal(t, "refs/heads/main", ev.Ref)
	assert.Equal(t, "Fix crash, closes #12", ev.HeadCommit)
	assert.Equal(t, 1, ev.Commits)
	assert.Equal(t, "acme", ev.Owner)
}

func TestParseEvent_PushWithoutHeadCommit(t *testing.T) {
	payload := `{"ref": "refs/heads/main",
		"commits": [{"message": "first"}, {"message": "second #3"}],
		"repository": {"name": "gigi"}}`

	ev, err := ParseEvent("push", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "second #3", ev.HeadCommit)
}

func TestParseEvent_Unsupported(t *testing.T) {
	_, err := ParseEvent("release", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnsupportedEvent))
}

func TestParseEvent_Malformed(t *testing.T) {
	for _, payload := range []string{``, `not json`, `{"issue": "oops"}`, `[1,2,3]`} {
		ev, err := ParseEvent("issues", []byte(payload))
		assert.Error(t, err, payload)
		assert.Nil(t, ev)
	}
}

func TestParseEvent_MissingFields(t *testing.T) {
	ev, err := ParseEvent("issues", []byte(`{"action": "opened"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.Repo)
	assert.Equal(t, 0, ev.Number)
}

// ---- signatures and headers ----

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	sig := sign("s3cret", body)

	assert.NoError(t, VerifySignature("s3cret", sig, body), "gitea bare hex")
	assert.NoError(t, VerifySignature("s3cret", "sha256="+sig, body), "github prefixed")

	tests := []struct {
		name, secret, sig string
	}{
		{"wrong secret", "other", sig},
		{"missing", "s3cret", ""},
		{"garbage", "s3cret", "zzzz"},
		{"tampered", "s3cret", sign("s3cret", []byte("other body"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, tt.sig, body)
			assert.True(t, errors.Is(err, ErrBadSignature), "err = %v", err)
		})
	}
}

func TestHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	r.Header.Set("X-GitHub-Event", "issues")
	r.Header.Set("X-GitHub-Delivery", "gh-1")
	r.Header.Set("X-Hub-Signature-256", "sha256=abc")
	assert.Equal(t, "issues", EventType(r))
	assert.Equal(t, "gh-1", DeliveryID(r))
	assert.Equal(t, "sha256=abc", Signature(r))

	r.Header.Set(HeaderGiteaEvent, "issue_comment")
	r.Header.Set(HeaderGiteaDelivery, "gt-1")
	r.Header.Set(HeaderGiteaSignature, "def")
	assert.Equal(t, "issue_comment", EventType(r))
	assert.Equal(t, "gt-1", DeliveryID(r))
	assert.Equal(t, "def", Signature(r))
}

// ---- Client ----

func TestClient_PostComment(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		var in struct {
			Body string `json:"body"`
		}
		json.Unmarshal(b, &in)
		gotBody = in.Body
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1, "html_url": "https://git/acme/gigi/issues/3#c1"}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientOpts{APIURL: srv.URL + "/api/v1", Token: "tok"})
	require.NoError(t, err)

	url, err := c.PostComment(context.Background(), "acme", "gigi", 3, "done")
	require.NoError(t, err)
	assert.Equal(t, "https://git/acme/gigi/issues/3#c1", url)
	assert.Equal(t, "/api/v1/repos/acme/gigi/issues/3/comments", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "done", gotBody)
}

func TestClient_PostCommentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "forbidden"}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientOpts{APIURL: srv.URL + "/", Token: "tok"})
	require.NoError(t, err)
	_, err = c.PostComment(context.Background(), "acme", "gigi", 3, "done")
	assert.Error(t, err)
}

func TestNewClient_TokenRequired(t *testing.T) {
	_, err := NewClient(ClientOpts{})
	assert.Error(t, err)
}
