// Package release publishes planned package versions to a registry in
// dependency order.
//
// Each package moves through pending, publishing and then published or
// failed. A failed attempt is classified: transient failures (typically a
// just-published dependency not yet visible on the registry's read path) are
// retried with exponential backoff up to a bounded number of attempts, while
// permanent failures (authentication, validation) fail the package at once.
// When a package fails terminally every package depending on it is skipped.
// Packages that already reached the registry are never rolled back; the
// Report enumerates the mixed outcome and its ExitCode is non-zero iff any
// package failed.
package release
