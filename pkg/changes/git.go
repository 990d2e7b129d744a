package changes

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitHistory reads change history from a git repository
type GitHistory struct {
	repo *git.Repository
	root string
}

// OpenGitHistory opens the repository containing path, searching parent
// directories for the .git directory
func OpenGitHistory(path string) (*GitHistory, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open repository at %s: %v", ErrHistoryUnavailable, path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: repository at %s has no worktree: %v", ErrHistoryUnavailable, path, err)
	}

	return &GitHistory{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Root returns the worktree root directory
func (h *GitHistory) Root() string {
	return h.root
}

// HasRef reports whether ref names a tag, a branch or a revision. Refs that
// fail to resolve, including ones that are not valid revision expressions,
// are reported as missing.
func (h *GitHistory) HasRef(_ context.Context, ref string) (bool, error) {
	if _, err := h.resolve(ref); err != nil {
		return false, nil
	}
	return true, nil
}

// ChangedPaths returns every path added, modified, deleted or renamed between
// ref and HEAD. Renames report both the old and the new path.
func (h *GitHistory) ChangedPaths(ctx context.Context, ref string) ([]string, error) {
	base, err := h.resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve %s: %v", ErrHistoryUnavailable, ref, err)
	}

	headRef, err := h.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve HEAD: %v", ErrHistoryUnavailable, err)
	}
	head, err := h.repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read HEAD commit: %v", ErrHistoryUnavailable, err)
	}

	if base.Hash == head.Hash {
		return nil, nil
	}

	baseTree, err := base.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", ref, err)
	}
	headTree, err := head.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of HEAD: %w", err)
	}

	diff, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s against HEAD: %w", ref, err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, change := range diff {
		for _, name := range []string{change.From.Name, change.To.Name} {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			paths = append(paths, name)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// UncommittedPaths returns staged, unstaged and untracked paths
func (h *GitHistory) UncommittedPaths(_ context.Context) ([]string, error) {
	wt, err := h.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	var paths []string
	for p, s := range status {
		if s.Staging == git.Unmodified && s.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// resolve finds the commit a tag, branch or revision points at. Annotated
// tags are peeled to their commit.
func (h *GitHistory) resolve(ref string) (*object.Commit, error) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	} {
		r, err := h.repo.Reference(name, true)
		if err == nil {
			return h.commit(r.Hash())
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, err
		}
	}

	hash, err := h.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, err
	}
	return h.commit(*hash)
}

func (h *GitHistory) commit(hash plumbing.Hash) (*object.Commit, error) {
	if tag, err := h.repo.TagObject(hash); err == nil {
		return tag.Commit()
	}
	return h.repo.CommitObject(hash)
}
