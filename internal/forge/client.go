package forge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Client posts comments through a GitHub-compatible REST API. Gitea serves
// the same issue comment endpoint under /api/v1/.
type Client struct {
	gh *github.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	APIURL string // e.g. "https://git.example.com/api/v1/"; empty means api.github.com
	Token  string
}

// NewClient creates a forge API client authenticated with a static token.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("forge: token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	gh := github.NewClient(oauth2.NewClient(context.Background(), ts))
	if opts.APIURL != "" {
		base, err := url.Parse(opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("forge: api url: %w", err)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		gh.BaseURL = base
	}
	return &Client{gh: gh}, nil
}

// PostComment adds a comment to issue or pull request number in owner/repo
// and returns the comment's URL.
func (c *Client) PostComment(ctx context.Context, owner, repo string, number int, body string) (string, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return "", fmt.Errorf("forge: post comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	return comment.GetHTMLURL(), nil
}
