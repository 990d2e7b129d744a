// Package inventory tracks publish outcomes across runs. It records which
// package versions reached the registry, persists that record next to the
// workspace so an interrupted release can resume, and detects packages whose
// recorded fingerprint no longer matches what would be published.
package inventory
