// Package changes decides which workspace packages changed since their last
// release marker.
//
// A release marker is a git reference: either one reference shared by every
// package (Options.Since) or a per-package tag rendered from
// Options.TagPattern for the package's current version. A package without a
// marker has never been released and is always changed.
//
// Each changed file is attributed to the deepest package directory that
// contains it, so a nested package's changes never mark its parent changed.
//
// When the history cannot be read the detector fails with
// ErrHistoryUnavailable, unless Options.AssumeAllChanged requests the
// fallback of treating every package as changed.
package changes
