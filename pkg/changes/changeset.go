package changes

import "sort"

// Reason records why a package is considered changed
type Reason string

const (
	// ReasonFilesChanged means files under the package directory changed
	ReasonFilesChanged Reason = "files-changed"

	// ReasonFirstRelease means the package has no release marker
	ReasonFirstRelease Reason = "first-release"

	// ReasonAssumed means history was unavailable and every package is
	// treated as changed
	ReasonAssumed Reason = "assumed"
)

// Change describes a single changed package
type Change struct {
	// Name is the package name
	Name string `json:"name"`

	// Reason records why the package changed
	Reason Reason `json:"reason"`

	// Marker is the release marker the package was compared against
	Marker string `json:"marker,omitempty"`

	// Files lists the changed paths relative to the package directory
	Files []string `json:"files,omitempty"`
}

// ChangeSet is the set of packages that changed since their release marker
type ChangeSet struct {
	changes map[string]Change
}

func newChangeSet(changes []Change) *ChangeSet {
	cs := &ChangeSet{changes: make(map[string]Change, len(changes))}
	for _, c := range changes {
		cs.changes[c.Name] = c
	}
	return cs
}

// Has reports whether name changed
func (c *ChangeSet) Has(name string) bool {
	_, found := c.changes[name]
	return found
}

// Names returns the changed package names, sorted
func (c *ChangeSet) Names() []string {
	names := make([]string, 0, len(c.changes))
	for name := range c.changes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of changed packages
func (c *ChangeSet) Len() int {
	return len(c.changes)
}

// Get returns the change recorded for name
func (c *ChangeSet) Get(name string) (Change, bool) {
	change, found := c.changes[name]
	return change, found
}

// Changes returns every change, sorted by package name
func (c *ChangeSet) Changes() []Change {
	names := c.Names()
	changes := make([]Change, 0, len(names))
	for _, name := range names {
		changes = append(changes, c.changes[name])
	}
	return changes
}
