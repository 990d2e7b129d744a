package changes

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/chazu/wharf/pkg/graph"
)

// DefaultTagPattern renders the release tag of a package version
const DefaultTagPattern = "{name}@v{version}"

// History answers questions about the repository the workspace lives in
type History interface {
	// Root returns the repository root directory
	Root() string

	// HasRef reports whether ref resolves to a commit
	HasRef(ctx context.Context, ref string) (bool, error)

	// ChangedPaths returns the slash-separated, root-relative paths that
	// differ between ref and HEAD
	ChangedPaths(ctx context.Context, ref string) ([]string, error)

	// UncommittedPaths returns the root-relative paths with staged,
	// unstaged or untracked modifications
	UncommittedPaths(ctx context.Context) ([]string, error)
}

// Options configures change detection
type Options struct {
	// Since is a release marker shared by every package. When empty each
	// package is compared against its own release tag.
	Since string

	// TagPattern renders a package's release tag from {name} and {version}
	// Default: DefaultTagPattern
	TagPattern string

	// IgnorePatterns are path.Match globs, relative to the package directory,
	// whose changes do not count. Patterns without a slash also match the
	// file's base name.
	IgnorePatterns []string

	// IncludeUncommitted counts worktree modifications as changes
	IncludeUncommitted bool

	// AssumeAllChanged treats every package as changed when the history is
	// unavailable instead of failing
	AssumeAllChanged bool
}

// Detector computes change sets
type Detector struct {
	history History
	opts    Options
}

// NewDetector creates a detector reading from history. A nil history is
// treated as unavailable.
func NewDetector(history History, opts Options) *Detector {
	if opts.TagPattern == "" {
		opts.TagPattern = DefaultTagPattern
	}
	return &Detector{history: history, opts: opts}
}

// TagName renders the release tag of a package version
func TagName(pattern, name, version string) string {
	if pattern == "" {
		pattern = DefaultTagPattern
	}
	return strings.NewReplacer("{name}", name, "{version}", version).Replace(pattern)
}

// Detect returns the packages of g that changed since their release marker
func (d *Detector) Detect(ctx context.Context, g *graph.DependencyGraph) (*ChangeSet, error) {
	if g == nil {
		return nil, fmt.Errorf("dependency graph cannot be nil")
	}
	for _, pattern := range d.opts.IgnorePatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}

	logger := logr.FromContextOrDiscard(ctx)

	changes, err := d.detect(ctx, g)
	if err != nil {
		if !errors.Is(err, ErrHistoryUnavailable) || !d.opts.AssumeAllChanged {
			return nil, err
		}
		logger.Info("WARNING: history unavailable, treating every package as changed", "error", err.Error())
		changes = make([]Change, 0, g.Size())
		for _, name := range g.Order() {
			changes = append(changes, Change{Name: name, Reason: ReasonAssumed})
		}
	}

	cs := newChangeSet(changes)
	logger.Info("detected changes", "changed", cs.Len(), "packages", g.Size())
	return cs, nil
}

func (d *Detector) detect(ctx context.Context, g *graph.DependencyGraph) ([]Change, error) {
	if d.history == nil {
		return nil, fmt.Errorf("%w: no repository", ErrHistoryUnavailable)
	}
	logger := logr.FromContextOrDiscard(ctx)

	owners, err := d.packageDirs(g)
	if err != nil {
		return nil, err
	}

	var uncommitted []string
	if d.opts.IncludeUncommitted {
		uncommitted, err = d.history.UncommittedPaths(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
	}

	// Packages sharing a marker share one diff
	diffs := make(map[string]map[string][]string)
	diffFor := func(marker string) (map[string][]string, error) {
		if byOwner, found := diffs[marker]; found {
			return byOwner, nil
		}
		paths, err := d.history.ChangedPaths(ctx, marker)
		if err != nil {
			if errors.Is(err, ErrHistoryUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
		byOwner := attribute(owners, append(append([]string(nil), paths...), uncommitted...))
		diffs[marker] = byOwner
		return byOwner, nil
	}

	var changes []Change
	for _, name := range g.Order() {
		marker := d.opts.Since
		if marker == "" {
			pkg, _ := g.Package(name)
			marker = TagName(d.opts.TagPattern, pkg.Name, pkg.Version)
			found, err := d.history.HasRef(ctx, marker)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
			}
			if !found {
				logger.V(1).Info("no release marker", "package", name, "marker", marker)
				changes = append(changes, Change{Name: name, Reason: ReasonFirstRelease, Marker: marker})
				continue
			}
		}

		byOwner, err := diffFor(marker)
		if err != nil {
			return nil, err
		}

		files := d.filter(byOwner[name])
		if len(files) == 0 {
			continue
		}
		changes = append(changes, Change{Name: name, Reason: ReasonFilesChanged, Marker: marker, Files: files})
	}

	return changes, nil
}

// packageDirs maps every package to its slash-separated directory relative
// to the repository root
func (d *Detector) packageDirs(g *graph.DependencyGraph) (map[string]string, error) {
	root := d.history.Root()
	dirs := make(map[string]string, g.Size())
	for _, name := range g.Order() {
		pkg, _ := g.Package(name)
		dir := pkg.Path
		if filepath.IsAbs(dir) {
			rel, err := filepath.Rel(root, dir)
			if err != nil || strings.HasPrefix(rel, "..") {
				return nil, fmt.Errorf("package %s at %s is outside the repository %s", name, dir, root)
			}
			dir = rel
		}
		dirs[name] = filepath.ToSlash(filepath.Clean(dir))
	}
	return dirs, nil
}

// attribute assigns each path to the package with the deepest directory
// containing it. Paths are returned relative to that directory.
func attribute(owners map[string]string, paths []string) map[string][]string {
	type owner struct {
		name string
		dir  string
	}
	ordered := make([]owner, 0, len(owners))
	for name, dir := range owners {
		ordered = append(ordered, owner{name: name, dir: dir})
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := depth(ordered[i].dir), depth(ordered[j].dir)
		if di != dj {
			return di > dj
		}
		if ordered[i].dir != ordered[j].dir {
			return ordered[i].dir < ordered[j].dir
		}
		return ordered[i].name < ordered[j].name
	})

	byOwner := make(map[string][]string)
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		for _, o := range ordered {
			if rel, ok := within(o.dir, p); ok {
				byOwner[o.name] = append(byOwner[o.name], rel)
				break
			}
		}
	}
	for name := range byOwner {
		sort.Strings(byOwner[name])
	}
	return byOwner
}

// depth counts the segments of a slash-separated directory; the workspace
// root has depth 0
func depth(dir string) int {
	if dir == "." {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

func within(dir, p string) (string, bool) {
	switch {
	case dir == ".":
		return p, true
	case p == dir:
		return ".", true
	case strings.HasPrefix(p, dir+"/"):
		return strings.TrimPrefix(p, dir+"/"), true
	default:
		return "", false
	}
}

// filter drops paths matching an ignore pattern
func (d *Detector) filter(files []string) []string {
	if len(d.opts.IgnorePatterns) == 0 {
		return files
	}

	var kept []string
	for _, f := range files {
		if !d.ignored(f) {
			kept = append(kept, f)
		}
	}
	return kept
}

func (d *Detector) ignored(file string) bool {
	for _, pattern := range d.opts.IgnorePatterns {
		if ok, _ := path.Match(pattern, file); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := path.Match(pattern, path.Base(file)); ok {
				return true
			}
		}
	}
	return false
}
