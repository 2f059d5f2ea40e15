// Package gitrepo is the local dictionary repository backend, used when
// no GitHub token is configured. It mirrors the GitHub client surface
// on a plain git repository on disk; a "pull request" becomes a copy
// commit merge into the default branch with a synthetic number.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"keytao/api/internal/store"
)

const (
	authorName  = "KeyTao Sync"
	authorEmail = "sync@keytao.local"
)

type Service struct {
	dir           string
	defaultBranch string
	mu            sync.Mutex
}

func New(dir, defaultBranch string) *Service {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return &Service{dir: dir, defaultBranch: defaultBranch}
}

// Ensure initializes the repository with an empty baseline commit if it
// does not exist yet.
func (s *Service) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(s.dir, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo dir: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(s.dir, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	readme := "# KeyTao dictionaries\n\nManaged by the KeyTao dictionary service.\n"
	if err := os.WriteFile(filepath.Join(s.dir, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("write baseline readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return fmt.Errorf("git add baseline readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize dictionary repository", &git.CommitOptions{Author: signature()})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(s.defaultBranch), hash)); err != nil {
		return fmt.Errorf("set default branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(s.defaultBranch))); err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	return nil
}

// GetFileContent reads a file at a branch head. An empty branch means
// the default branch. Missing branches and files report found=false.
func (s *Service) GetFileContent(ctx context.Context, branch, path string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch == "" {
		branch = s.defaultBranch
	}
	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return "", false, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", false, fmt.Errorf("load commit object: %w", err)
	}

	file, err := commitObj.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s from commit: %w", path, err)
	}

	reader, err := file.Reader()
	if err != nil {
		return "", false, fmt.Errorf("open file reader: %w", err)
	}
	defer reader.Close()

	contents, err := io.ReadAll(reader)
	if err != nil {
		return "", false, fmt.Errorf("read file bytes: %w", err)
	}
	return string(contents), true, nil
}

// GetOrCreateBranch makes sure the branch exists, branching off the
// default branch head when it does not.
func (s *Service) GetOrCreateBranch(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	branchRefName := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(branchRefName, true); err == nil {
		return nil
	}

	fromRef, err := repo.Reference(plumbing.NewBranchReferenceName(s.defaultBranch), true)
	if err != nil {
		return fmt.Errorf("read default branch ref: %w", err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, fromRef.Hash())); err != nil {
		return fmt.Errorf("create branch ref: %w", err)
	}
	return nil
}

// CommitFiles writes the files as one commit on the branch. Empty
// commits are allowed so a replayed chunk with unchanged content still
// succeeds after a resumed sync.
func (s *Service) CommitFiles(ctx context.Context, branch string, files []store.SyncFile, message string) error {
	if len(files) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	_, err = commitFiles(repo, branch, files, message, true)
	return err
}

// CreatePullRequest merges the branch's dictionary files into the
// default branch with a copy commit, tags the result and returns the
// running merge count as the pull request number. The local backend
// publishes immediately, there is no review hop.
func (s *Service) CreatePullRequest(ctx context.Context, branch, title, body string) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return 0, "", fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return 0, "", fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return 0, "", fmt.Errorf("load commit object: %w", err)
	}
	files, err := dictionaryFiles(commitObj)
	if err != nil {
		return 0, "", err
	}

	message := title
	if body != "" {
		message += "\n\n" + body
	}
	message += fmt.Sprintf("\n\nmerge: source=%s target=%s mode=copy-commit", branch, s.defaultBranch)

	hash, err := commitFiles(repo, s.defaultBranch, files, message, true)
	if err != nil {
		return 0, "", err
	}

	number, err := countMerges(repo, hash)
	if err != nil {
		return 0, "", err
	}
	if err := tagMerge(repo, hash, branch); err != nil {
		return 0, "", err
	}
	return number, fmt.Sprintf("local:%s#%d", branch, number), nil
}

func commitFiles(repo *git.Repository, branchName string, files []store.SyncFile, message string, allowEmpty bool) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branchName); err != nil {
		return plumbing.ZeroHash, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	for _, file := range files {
		target := filepath.Join(repoRoot, filepath.FromSlash(file.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("create dir for %s: %w", file.Path, err)
		}
		if err := os.WriteFile(target, []byte(file.Content), 0o644); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("write %s: %w", file.Path, err)
		}
		if _, err := worktree.Add(file.Path); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", file.Path, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            signature(),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit files: %w", err)
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func dictionaryFiles(commitObj *object.Commit) ([]store.SyncFile, error) {
	iter, err := commitObj.Files()
	if err != nil {
		return nil, fmt.Errorf("list commit files: %w", err)
	}
	files := make([]store.SyncFile, 0)
	err = iter.ForEach(func(file *object.File) error {
		if !strings.HasPrefix(file.Name, "rime/") {
			return nil
		}
		contents, err := file.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", file.Name, err)
		}
		files = append(files, store.SyncFile{Path: file.Name, Content: contents})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func countMerges(repo *git.Repository, from plumbing.Hash) (int, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return 0, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if strings.Contains(commitObj.Message, "mode=copy-commit") {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate log: %w", err)
	}
	return count, nil
}

func tagMerge(repo *git.Repository, hash plumbing.Hash, branch string) error {
	_, err := repo.CreateTag("sync/"+branch, hash, &git.CreateTagOptions{
		Tagger:  signature(),
		Message: "Published " + branch,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func signature() *object.Signature {
	return &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()}
}
