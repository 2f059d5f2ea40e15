// Package ghclient talks to the GitHub REST API for the dictionary
// sync: reading upstream files, committing chunks to a work branch and
// opening the final pull request.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"keytao/api/internal/store"
)

type Client struct {
	gh         *gh.Client
	owner      string
	repo       string
	baseBranch string
}

// New builds a client with conditional request caching and secondary
// rate limit handling layered into the transport.
func New(token, repoFullName, baseBranch string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	httpClient := github_ratelimit.NewClient(httpcache.NewMemoryCacheTransport())
	return &Client{
		gh:         gh.NewClient(httpClient).WithAuthToken(token),
		owner:      owner,
		repo:       repo,
		baseBranch: baseBranch,
	}, nil
}

// NewWithHTTPClient points the client at an arbitrary API base URL.
// Tests use it with httptest servers.
func NewWithHTTPClient(httpClient *http.Client, baseURL, repoFullName, baseBranch string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	client := gh.NewClient(httpClient)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if !strings.HasSuffix(parsed.Path, "/") {
			parsed.Path += "/"
		}
		client.BaseURL = parsed
	}
	return &Client{gh: client, owner: owner, repo: repo, baseBranch: baseBranch}, nil
}

func splitRepo(repoFullName string) (string, string, error) {
	parts := strings.Split(repoFullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be owner/name, got %q", repoFullName)
	}
	return parts[0], parts[1], nil
}

// Ping verifies the token by fetching the authenticated user.
func (c *Client) Ping(ctx context.Context) error {
	if _, _, err := c.gh.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("github token check: %w", err)
	}
	return nil
}

// GetFileContent reads a file at a branch. An empty branch means the
// base branch. A missing file is not an error, found reports it.
func (c *Client) GetFileContent(ctx context.Context, branch, path string) (string, bool, error) {
	ref := branch
	if ref == "" {
		ref = c.baseBranch
	}
	fileContent, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s at %s: %w", path, ref, err)
	}
	if fileContent == nil {
		return "", false, fmt.Errorf("%s is a directory", path)
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("decode %s: %w", path, err)
	}
	return content, true, nil
}

// GetOrCreateBranch makes sure the work branch exists, branching off
// the base branch head when it does not.
func (c *Client) GetOrCreateBranch(ctx context.Context, name string) error {
	_, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+name)
	if err == nil {
		return nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("get branch %s: %w", name, err)
	}

	base, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+c.baseBranch)
	if err != nil {
		return fmt.Errorf("get base branch %s: %w", c.baseBranch, err)
	}
	_, _, err = c.gh.Git.CreateRef(ctx, c.owner, c.repo, gh.CreateRef{
		Ref: "refs/heads/" + name,
		SHA: base.Object.GetSHA(),
	})
	if err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// CommitFiles writes the files as a single commit on the branch via the
// git data API: tree on top of the branch head, commit, ref update.
func (c *Client) CommitFiles(ctx context.Context, branch string, files []store.SyncFile, message string) error {
	if len(files) == 0 {
		return nil
	}

	ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return fmt.Errorf("get branch %s: %w", branch, err)
	}
	parentSHA := ref.Object.GetSHA()
	parent, _, err := c.gh.Git.GetCommit(ctx, c.owner, c.repo, parentSHA)
	if err != nil {
		return fmt.Errorf("get commit %s: %w", parentSHA, err)
	}

	entries := make([]*gh.TreeEntry, 0, len(files))
	for _, file := range files {
		entries = append(entries, &gh.TreeEntry{
			Path:    gh.Ptr(file.Path),
			Mode:    gh.Ptr("100644"),
			Type:    gh.Ptr("blob"),
			Content: gh.Ptr(file.Content),
		})
	}
	tree, _, err := c.gh.Git.CreateTree(ctx, c.owner, c.repo, parent.Tree.GetSHA(), entries)
	if err != nil {
		return fmt.Errorf("create tree: %w", err)
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, gh.Commit{
		Message: gh.Ptr(message),
		Tree:    tree,
		Parents: []*gh.Commit{{SHA: gh.Ptr(parentSHA)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("create commit: %w", err)
	}

	_, _, err = c.gh.Git.UpdateRef(ctx, c.owner, c.repo, "refs/heads/"+branch, gh.UpdateRef{
		SHA: commit.GetSHA(),
	})
	if err != nil {
		return fmt.Errorf("update branch %s: %w", branch, err)
	}
	return nil
}

// CreatePullRequest opens a pull request from the branch into the base
// branch. If one is already open for that branch, GitHub answers 422
// and the existing pull request is returned instead.
func (c *Client) CreatePullRequest(ctx context.Context, branch, title, body string) (int, string, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Head:  gh.Ptr(branch),
		Base:  gh.Ptr(c.baseBranch),
		Body:  gh.Ptr(body),
	})
	if err == nil {
		return pr.GetNumber(), pr.GetHTMLURL(), nil
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
		existing, _, listErr := c.gh.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
			Head:  c.owner + ":" + branch,
			Base:  c.baseBranch,
			State: "open",
		})
		if listErr == nil && len(existing) > 0 {
			return existing[0].GetNumber(), existing[0].GetHTMLURL(), nil
		}
	}
	return 0, "", fmt.Errorf("create pull request: %w", err)
}
