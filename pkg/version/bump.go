package version

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// BumpKind is a semantic version increment
type BumpKind string

const (
	BumpMajor      BumpKind = "major"
	BumpMinor      BumpKind = "minor"
	BumpPatch      BumpKind = "patch"
	BumpPremajor   BumpKind = "premajor"
	BumpPreminor   BumpKind = "preminor"
	BumpPrepatch   BumpKind = "prepatch"
	BumpPrerelease BumpKind = "prerelease"
)

// DefaultPreID is the pre-release identifier used when none is configured
const DefaultPreID = "alpha"

// ParseBumpKind validates a bump kind name
func ParseBumpKind(s string) (BumpKind, error) {
	switch k := BumpKind(s); k {
	case BumpMajor, BumpMinor, BumpPatch, BumpPremajor, BumpPreminor, BumpPrepatch, BumpPrerelease:
		return k, nil
	default:
		return "", fmt.Errorf("unknown bump kind %q", s)
	}
}

// Bump returns v incremented by kind. Build metadata is dropped. A stable
// bump of a pre-release whose lower components are already zero releases
// the pre-release instead of skipping past it (1.0.0-alpha.1 major => 1.0.0).
func Bump(v semver.Version, kind BumpKind, preid string) (semver.Version, error) {
	if preid == "" {
		preid = DefaultPreID
	}

	next := semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	isPre := len(v.Pre) > 0

	switch kind {
	case BumpMajor:
		if !(isPre && v.Minor == 0 && v.Patch == 0) {
			next.Major++
		}
		next.Minor, next.Patch = 0, 0
	case BumpMinor:
		if !(isPre && v.Patch == 0) {
			next.Minor++
		}
		next.Patch = 0
	case BumpPatch:
		if !isPre {
			next.Patch++
		}
	case BumpPremajor:
		next.Major++
		next.Minor, next.Patch = 0, 0
		return withPre(next, preid, 0)
	case BumpPreminor:
		next.Minor++
		next.Patch = 0
		return withPre(next, preid, 0)
	case BumpPrepatch:
		next.Patch++
		return withPre(next, preid, 0)
	case BumpPrerelease:
		return bumpPrerelease(v, preid)
	default:
		return semver.Version{}, fmt.Errorf("unknown bump kind %q", kind)
	}

	return next, nil
}

func bumpPrerelease(v semver.Version, preid string) (semver.Version, error) {
	next := semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}

	if len(v.Pre) == 0 {
		next.Patch++
		return withPre(next, preid, 0)
	}

	// Switching channel (alpha -> beta) restarts the counter
	if !v.Pre[0].IsNum && v.Pre[0].VersionStr != preid {
		return withPre(next, preid, 0)
	}

	next.Pre = append([]semver.PRVersion(nil), v.Pre...)
	for i := len(next.Pre) - 1; i >= 0; i-- {
		if next.Pre[i].IsNum {
			next.Pre[i].VersionNum++
			return next, nil
		}
	}
	next.Pre = append(next.Pre, semver.PRVersion{VersionNum: 0, IsNum: true})
	return next, nil
}

func withPre(v semver.Version, preid string, n uint64) (semver.Version, error) {
	id, err := semver.NewPRVersion(preid)
	if err != nil {
		return semver.Version{}, fmt.Errorf("invalid pre-release identifier %q: %w", preid, err)
	}
	v.Pre = []semver.PRVersion{id, {VersionNum: n, IsNum: true}}
	return v, nil
}

// propagationBump returns the bump kind applied to a package whose
// dependency moved. Packages on a pre-release channel stay on it.
func propagationBump(current semver.Version, kind BumpKind) BumpKind {
	if len(current.Pre) > 0 {
		return BumpPrerelease
	}
	return kind
}
