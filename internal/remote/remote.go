// Package remote abstracts the source-hosting API used to fetch pull
// requests. The rest of the system depends only on the normalized types here,
// never on a concrete hosting client.
package remote

import "context"

// PullRequest is the normalized metadata for a remote pull request
type PullRequest struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	HeadBranch  string `json:"headBranch"`
	HeadSHA     string `json:"headSha"`
	BaseBranch  string `json:"baseBranch"`
	BaseSHA     string `json:"baseSha"`
	Author      string `json:"author"`
	URL         string `json:"url"`
}

// Source fetches pull request data from a hosting service
type Source interface {
	// Name identifies the hosting service
	Name() string
	// GetPullRequest fetches normalized PR metadata
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	// GetPullRequestDiff fetches the PR's unified diff text
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
}
