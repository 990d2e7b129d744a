// Package workspace provides the resolved package metadata of a multi-package
// repository: package identity, versions, locations and the dependency
// requirements each package declares.
package workspace
