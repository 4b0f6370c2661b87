package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/checkin/internal/common"
)

// GitHubIssueGateway posts the report as an issue comment, or opens a new issue
// per run when no issue number is configured
type GitHubIssueGateway struct {
	client      *github.Client
	owner       string
	repo        string
	issueNumber int
	labels      []string
	logger      arbor.ILogger
}

// NewGitHubIssueGateway creates a gateway authenticated with a static token.
// An empty Owner/Repo falls back to GITHUB_REPOSITORY style "owner/repo" in Repo.
func NewGitHubIssueGateway(config common.GitHubNotifyConfig, logger arbor.ILogger) (*GitHubIssueGateway, error) {
	owner, repo := config.Owner, config.Repo
	if owner == "" {
		owner, repo, _ = strings.Cut(repo, "/")
	}
	if config.Token == "" || owner == "" || repo == "" {
		return nil, fmt.Errorf("github notification requires token, owner and repo")
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), source))

	return &GitHubIssueGateway{
		client:      client,
		owner:       owner,
		repo:        repo,
		issueNumber: config.IssueNumber,
		labels:      config.Labels,
		logger:      logger,
	}, nil
}

// WithBaseURL points the client at another API root, e.g. GitHub Enterprise
func (g *GitHubIssueGateway) WithBaseURL(base string) (*GitHubIssueGateway, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	g.client.BaseURL = u
	return g, nil
}

func (g *GitHubIssueGateway) Push(ctx context.Context, title, body string) error {
	text := "```\n" + body + "\n```"

	if g.issueNumber > 0 {
		comment, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, g.issueNumber, &github.IssueComment{
			Body: github.String("### " + title + "\n\n" + text),
		})
		if err != nil {
			return fmt.Errorf("failed to comment on issue #%d: %w", g.issueNumber, err)
		}
		g.logger.Info().Str("url", comment.GetHTMLURL()).Msg("GitHub issue comment posted")
		return nil
	}

	request := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(text),
	}
	if len(g.labels) > 0 {
		labels := append([]string(nil), g.labels...)
		request.Labels = &labels
	}
	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.repo, request)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	g.logger.Info().Int("issue", issue.GetNumber()).Str("url", issue.GetHTMLURL()).Msg("GitHub issue created")
	return nil
}
