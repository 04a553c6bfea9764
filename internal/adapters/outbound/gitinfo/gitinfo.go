package gitinfo

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitInfoAdapter implements domain.GitInfo using go-git.
type GitInfoAdapter struct{}

func New() *GitInfoAdapter {
	return &GitInfoAdapter{}
}

func open(projectPath string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repo: %w", err)
	}
	return repo, nil
}

func (g *GitInfoAdapter) IsGitRepo(projectPath string) bool {
	_, err := open(projectPath)
	return err == nil
}

func (g *GitInfoAdapter) CommitHash(projectPath string) (string, error) {
	repo, err := open(projectPath)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}

	return head.Hash().String(), nil
}

// Branch returns the short name of the checked-out branch, or "" when HEAD
// is detached.
func (g *GitInfoAdapter) Branch(projectPath string) (string, error) {
	repo, err := open(projectPath)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// ChangedFiles lists files with staged, unstaged or untracked changes. When
// since names a revision, files changed between it and HEAD are included
// too. Paths are relative to projectPath with forward slashes; changes
// outside projectPath are dropped.
func (g *GitInfoAdapter) ChangedFiles(projectPath string, since string) ([]string, error) {
	repo, err := open(projectPath)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}

	changed := make(map[string]bool)

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}
	for path, fs := range status {
		if fs.Staging == git.Deleted || fs.Worktree == git.Deleted {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			changed[path] = true
		}
	}

	if since != "" {
		paths, err := diffSince(repo, since)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			changed[p] = true
		}
	}

	return relativeTo(wt.Filesystem.Root(), projectPath, changed)
}

func diffSince(repo *git.Repository, since string) ([]string, error) {
	baseHash, err := repo.ResolveRevision(plumbing.Revision(since))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", since, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("getting HEAD: %w", err)
	}

	baseTree, err := commitTree(repo, *baseHash)
	if err != nil {
		return nil, err
	}
	headTree, err := commitTree(repo, head.Hash())
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..HEAD: %w", since, err)
	}
	var paths []string
	for _, c := range changes {
		// deletions have no To side and nothing left to validate
		if c.To.Name != "" {
			paths = append(paths, c.To.Name)
		}
	}
	return paths, nil
}

func commitTree(repo *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree of %s: %w", hash, err)
	}
	return tree, nil
}

func relativeTo(repoRoot, projectPath string, changed map[string]bool) ([]string, error) {
	absProject, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absProject); err == nil {
		absProject = resolved
	}
	if resolved, err := filepath.EvalSymlinks(repoRoot); err == nil {
		repoRoot = resolved
	}

	out := make([]string, 0, len(changed))
	for p := range changed {
		rel, err := filepath.Rel(absProject, filepath.Join(repoRoot, filepath.FromSlash(p)))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out, nil
}
