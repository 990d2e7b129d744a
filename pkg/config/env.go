package config

import (
	"fmt"
	"sort"

	"github.com/joho/godotenv"
)

// LoadEnv reads a dotenv file into KEY=VALUE pairs sorted by key. An empty
// path yields no variables.
func LoadEnv(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}
