// Package version computes the next versions of a workspace release: it
// seeds a plan with directly changed and forced packages and propagates
// bumps to every dependent whose dependency requirement must move.
package version
