package readiness

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SparseIndex reads a sparse HTTP registry index, where each package is a
// file of newline-delimited JSON entries at a path derived from its name
type SparseIndex struct {
	baseURL string
	client  *http.Client
}

// NewSparseIndex creates an index client for baseURL
func NewSparseIndex(baseURL string, client *http.Client) *SparseIndex {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SparseIndex{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// IndexPath returns the index file path of a package name:
// 1/{n}, 2/{n}, 3/{first char}/{n}, or {ab}/{cd}/{n}
func IndexPath(name string) string {
	n := strings.ToLower(name)
	switch len(n) {
	case 0:
		return ""
	case 1:
		return "1/" + n
	case 2:
		return "2/" + n
	case 3:
		return "3/" + n[:1] + "/" + n
	default:
		return n[:2] + "/" + n[2:4] + "/" + n
	}
}

// Versions fetches and decodes the package's index file
func (s *SparseIndex) Versions(ctx context.Context, name string) ([]IndexEntry, error) {
	if name == "" {
		return nil, fmt.Errorf("package name cannot be empty")
	}

	url := s.baseURL + "/" + IndexPath(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	default:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var entries []IndexEntry
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry IndexEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode index entry for %s: %w", name, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index for %s: %w", name, err)
	}

	return entries, nil
}
