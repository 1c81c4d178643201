package remote

import (
	"context"
	"net/http"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/logger"
)

// GitHubSource implements Source against the GitHub REST API
type GitHubSource struct {
	client *github.Client
	token  string
}

// NewGitHubSource creates a GitHub-backed source. An empty token yields an
// anonymous client, which works for public repositories at a reduced rate
// limit.
func NewGitHubSource(token string) *GitHubSource {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	return &GitHubSource{
		client: github.NewClient(httpClient),
		token:  token,
	}
}

// Name returns the hosting service name
func (s *GitHubSource) Name() string {
	return "github"
}

// GetPullRequest fetches normalized PR metadata
func (s *GitHubSource) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, resp, err := s.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, s.wrapError(err, resp, owner, repo, number, "failed to get pull request")
	}

	return &PullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		State:       pr.GetState(),
		HeadBranch:  pr.GetHead().GetRef(),
		HeadSHA:     pr.GetHead().GetSHA(),
		BaseBranch:  pr.GetBase().GetRef(),
		BaseSHA:     pr.GetBase().GetSHA(),
		Author:      pr.GetUser().GetLogin(),
		URL:         pr.GetHTMLURL(),
	}, nil
}

// GetPullRequestDiff fetches the PR's unified diff via the raw media type
func (s *GitHubSource) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, resp, err := s.client.PullRequests.GetRaw(ctx, owner, repo, number,
		github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", s.wrapError(err, resp, owner, repo, number, "failed to get pull request diff")
	}
	return diff, nil
}

func (s *GitHubSource) wrapError(err error, resp *github.Response, owner, repo string, number int, msg string) error {
	logger.Error("GitHub API request failed",
		zap.Error(err),
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("number", number),
	)

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errors.Wrap(errors.ErrCodeNotFound, "pull request not found", err)
		case http.StatusForbidden:
			if s.token == "" {
				return errors.Wrap(errors.ErrCodeRemoteAPI,
					"GitHub API rate limit exceeded: configure a github_token for higher limits", err)
			}
			return errors.Wrap(errors.ErrCodeRemoteAPI, "GitHub API access forbidden", err)
		case http.StatusUnauthorized:
			return errors.Wrap(errors.ErrCodeRemoteAPI, "GitHub token rejected", err)
		}
	}
	return errors.Wrap(errors.ErrCodeRemoteAPI, msg, err)
}
