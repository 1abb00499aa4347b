package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
)

const defaultRawBaseURL = "https://raw.githubusercontent.com"

type GitHubOptions struct {
	Owner      string
	Repo       string
	Branch     string // empty means the repository default branch
	Token      string
	APIBaseURL string
	RawBaseURL string
	// RequestDelay is waited between blob uploads.
	RequestDelay time.Duration
	AuthorName   string
	AuthorEmail  string
}

// GitHubStore keeps files in a GitHub repository. Writes go through the Git
// Data API (blobs, tree, commit, ref update) so a changeset of any size lands
// as a single commit.
type GitHubStore struct {
	client  *github.Client
	options GitHubOptions

	mu     sync.Mutex
	branch string
}

func NewGitHubStore(options GitHubOptions, httpClient *http.Client) (*GitHubStore, error) {
	if options.Owner == "" || options.Repo == "" {
		return nil, fmt.Errorf("github store requires owner and repo")
	}

	client := github.NewClient(httpClient)
	if options.Token != "" {
		client = client.WithAuthToken(options.Token)
	}
	if options.APIBaseURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(options.APIBaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github api base url %q: %w", options.APIBaseURL, err)
		}
		client.BaseURL = baseURL
	}
	if options.RawBaseURL == "" {
		options.RawBaseURL = defaultRawBaseURL
	}

	return &GitHubStore{
		client:  client,
		options: options,
		branch:  options.Branch,
	}, nil
}

func (s *GitHubStore) Type() string {
	return "github"
}

// Branch returns the configured branch or looks up and caches the
// repository's default branch.
func (s *GitHubStore) Branch(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.branch != "" {
		return s.branch, nil
	}

	repo, _, err := s.client.Repositories.Get(ctx, s.options.Owner, s.options.Repo)
	if err != nil {
		return "", fmt.Errorf("failed to get repository %s/%s: %w", s.options.Owner, s.options.Repo, err)
	}
	if repo.GetDefaultBranch() == "" {
		return "", fmt.Errorf("repository %s/%s has no default branch", s.options.Owner, s.options.Repo)
	}
	s.branch = repo.GetDefaultBranch()
	return s.branch, nil
}

func (s *GitHubStore) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}
	branch, err := s.Branch(ctx)
	if err != nil {
		return nil, err
	}

	_, dirContent, resp, err := s.client.Repositories.GetContents(ctx, s.options.Owner, s.options.Repo, cleaned,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if isNotFound(resp, err) {
			return nil, fmt.Errorf("directory %s: %w", cleaned, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to list %s: %w", cleaned, err)
	}
	if dirContent == nil {
		// the path names a file
		return nil, fmt.Errorf("directory %s: %w", cleaned, ErrNotFound)
	}

	entries := make([]Entry, 0, len(dirContent))
	for _, item := range dirContent {
		entries = append(entries, Entry{
			Name:  item.GetName(),
			Path:  item.GetPath(),
			IsDir: item.GetType() == "dir",
		})
	}
	return entries, nil
}

func (s *GitHubStore) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return nil, err
	}
	branch, err := s.Branch(ctx)
	if err != nil {
		return nil, err
	}

	fileContent, _, resp, err := s.client.Repositories.GetContents(ctx, s.options.Owner, s.options.Repo, cleaned,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if isNotFound(resp, err) {
			return nil, fmt.Errorf("file %s: %w", cleaned, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", cleaned, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("file %s: %w", cleaned, ErrNotFound)
	}

	// The contents API leaves out the body of files above 1 MB.
	if fileContent.GetEncoding() == "none" || (fileContent.Content == nil && fileContent.GetSize() > 0) {
		data, _, err := s.client.Git.GetBlobRaw(ctx, s.options.Owner, s.options.Repo, fileContent.GetSHA())
		if err != nil {
			return nil, fmt.Errorf("failed to get blob for %s: %w", cleaned, err)
		}
		return data, nil
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", cleaned, err)
	}
	return []byte(content), nil
}

// Apply uploads every file as a blob, builds a tree on top of the branch head,
// commits it and moves the branch to the new commit.
func (s *GitHubStore) Apply(ctx context.Context, changes Changeset) error {
	if len(changes.Files) == 0 {
		return nil
	}
	branch, err := s.Branch(ctx)
	if err != nil {
		return err
	}
	owner, repo := s.options.Owner, s.options.Repo

	entries := make([]*github.TreeEntry, 0, len(changes.Files))
	for i, file := range changes.Files {
		cleaned, err := CleanPath(file.Path)
		if err != nil {
			return err
		}
		if i > 0 {
			if err := s.wait(ctx); err != nil {
				return err
			}
		}

		slog.Info("uploading blob", "path", cleaned, "size_bytes", len(file.Content))
		blob, _, err := s.client.Git.CreateBlob(ctx, owner, repo, &github.Blob{
			Content:  github.String(base64.StdEncoding.EncodeToString(file.Content)),
			Encoding: github.String("base64"),
		})
		if err != nil {
			return fmt.Errorf("failed to create blob for %s: %w", cleaned, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.String(cleaned),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  blob.SHA,
		})
	}

	ref, _, err := s.client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return fmt.Errorf("failed to get ref heads/%s: %w", branch, err)
	}
	headSHA := ref.GetObject().GetSHA()

	headCommit, _, err := s.client.Git.GetCommit(ctx, owner, repo, headSHA)
	if err != nil {
		return fmt.Errorf("failed to get commit %s: %w", headSHA, err)
	}

	tree, _, err := s.client.Git.CreateTree(ctx, owner, repo, headCommit.GetTree().GetSHA(), entries)
	if err != nil {
		return fmt.Errorf("failed to create tree: %w", err)
	}

	commit := &github.Commit{
		Message: github.String(changes.Message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.String(headSHA)}},
	}
	if s.options.AuthorName != "" && s.options.AuthorEmail != "" {
		commit.Author = &github.CommitAuthor{
			Name:  github.String(s.options.AuthorName),
			Email: github.String(s.options.AuthorEmail),
		}
	}
	newCommit, _, err := s.client.Git.CreateCommit(ctx, owner, repo, commit, nil)
	if err != nil {
		return fmt.Errorf("failed to create commit: %w", err)
	}

	_, _, err = s.client.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: newCommit.SHA},
	}, false)
	if err != nil {
		return fmt.Errorf("failed to update ref heads/%s: %w", branch, err)
	}

	slog.Info("committed changeset", "commit", newCommit.GetSHA(), "branch", branch, "file_count", len(entries))
	return nil
}

// URL returns the raw download URL of filePath on the active branch.
func (s *GitHubStore) URL(ctx context.Context, filePath string) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	branch, err := s.Branch(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		strings.TrimSuffix(s.options.RawBaseURL, "/"), s.options.Owner, s.options.Repo, branch, cleaned), nil
}

func (s *GitHubStore) wait(ctx context.Context) error {
	if s.options.RequestDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.options.RequestDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var errorResponse *github.ErrorResponse
	return errors.As(err, &errorResponse) &&
		errorResponse.Response != nil &&
		errorResponse.Response.StatusCode == http.StatusNotFound
}
