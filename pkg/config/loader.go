package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/cespare/xxhash/v2"

	wharfcue "github.com/chazu/wharf/cue"
)

// DefaultFile is the configuration file looked up in the workspace root
const DefaultFile = "wharf.cue"

// Loader compiles configuration files against the embedded schema
type Loader struct {
	ctx    *cue.Context
	schema cue.Value
	cache  *Cache
}

// NewLoader creates a new loader with caching
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()

	src, err := fs.ReadFile(wharfcue.SchemaFS, wharfcue.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema: %w", err)
	}

	schema := ctx.CompileBytes(src, cue.Filename(wharfcue.SchemaFile))
	if schema.Err() != nil {
		return nil, fmt.Errorf("failed to compile embedded schema: %w", schema.Err())
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return nil, fmt.Errorf("embedded schema does not define #Config")
	}

	return &Loader{ctx: ctx, schema: def, cache: NewCache()}, nil
}

// Default returns the configuration with every field at its default
func (l *Loader) Default() (*Config, error) {
	return l.LoadBytes("default", nil)
}

// Load reads and resolves the file at path. A missing file yields the
// default configuration.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return l.LoadBytes(path, data)
}

// LoadBytes resolves CUE source; filename is used in error messages and as
// part of the cache key
func (l *Loader) LoadBytes(filename string, data []byte) (*Config, error) {
	cacheKey := fmt.Sprintf("%s:%x", filename, xxhash.Sum64(data))
	if cached, found := l.cache.Get(cacheKey); found {
		return cached, nil
	}

	user := l.ctx.CompileBytes(data, cue.Filename(filename))
	if user.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", filename, user.Err())
	}
	value := l.schema.Unify(user)

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	var doc document
	if err := value.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", filename, err)
	}

	cfg, err := doc.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	l.cache.Set(cacheKey, cfg)
	return cfg, nil
}
