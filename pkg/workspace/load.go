package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// LoadFile reads a resolved metadata document (YAML or JSON) as produced by
// the metadata adapter. Relative package paths are resolved against the
// workspace root, and a missing root defaults to the document's directory.
func LoadFile(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	ws, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if ws.Root == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		ws.Root = abs
	}

	for i := range ws.Packages {
		if !filepath.IsAbs(ws.Packages[i].Path) {
			ws.Packages[i].Path = filepath.Join(ws.Root, ws.Packages[i].Path)
		}
	}

	return ws, nil
}

// Parse decodes and validates a metadata document
func Parse(data []byte) (*Workspace, error) {
	ws := &Workspace{}
	if err := yaml.UnmarshalStrict(data, ws); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if err := ws.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}

	return ws, nil
}

// RelPath returns the package directory relative to the workspace root,
// using forward slashes
func (w *Workspace) RelPath(p *Package) (string, error) {
	path := p.Path
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return "", fmt.Errorf("package %s is outside the workspace root: %w", p.Name, err)
		}
		path = rel
	}
	return filepath.ToSlash(filepath.Clean(path)), nil
}
