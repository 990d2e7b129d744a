package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"sigs.k8s.io/yaml"
)

// InventoryItem represents a tracked package version
type InventoryItem struct {
	// ID is the unique identifier for this item ("name@version")
	ID string `json:"id"`

	// Name of the package
	Name string `json:"name"`

	// Version that was attempted
	Version string `json:"version"`

	// Hash is the package fingerprint at publish time (for drift detection)
	Hash string `json:"hash"`

	// Status tracks the outcome of the most recent attempt
	Status ItemStatus `json:"status"`

	// Attempts is the number of publish attempts in the most recent run
	Attempts int `json:"attempts,omitempty"`

	// RunID identifies the run that produced the outcome
	RunID string `json:"runID,omitempty"`

	// UpdatedAt is when the outcome was recorded
	UpdatedAt time.Time `json:"updatedAt"`
}

// ItemStatus represents the status of an inventory item
type ItemStatus string

const (
	// ItemStatusPublished means the version reached the registry
	ItemStatusPublished ItemStatus = "Published"

	// ItemStatusFailed means the version failed to publish
	ItemStatusFailed ItemStatus = "Failed"

	// ItemStatusOrphaned means the package is no longer in the workspace
	ItemStatusOrphaned ItemStatus = "Orphaned"
)

// Inventory is a collection of tracked package versions
type Inventory struct {
	// Items contains all tracked versions keyed by ID
	Items map[string]InventoryItem `json:"items"`

	// PlanHash identifies the plan the inventory was last written for
	PlanHash string `json:"planHash,omitempty"`
}

// Tracker manages the inventory of published package versions
type Tracker struct {
	mu sync.RWMutex

	// inventory is the current inventory state
	inventory *Inventory

	// generation tracks changes to the inventory
	generation int64
}

// NewTracker creates a new inventory tracker
func NewTracker() *Tracker {
	return &Tracker{
		inventory: &Inventory{
			Items: make(map[string]InventoryItem),
		},
	}
}

// NewTrackerFromInventory creates a tracker from an existing inventory
func NewTrackerFromInventory(inv *Inventory) *Tracker {
	if inv == nil {
		inv = &Inventory{
			Items: make(map[string]InventoryItem),
		}
	}
	if inv.Items == nil {
		inv.Items = make(map[string]InventoryItem)
	}
	return &Tracker{
		inventory: inv,
	}
}

// ItemID returns the inventory key of a package version
func ItemID(name, version string) string {
	return name + "@" + version
}

// RecordPublished records that a version was successfully published
func (t *Tracker) RecordPublished(name, version, hash string, attempts int, runID string) InventoryItem {
	return t.record(name, version, hash, attempts, runID, ItemStatusPublished)
}

// RecordFailed records that a version failed to publish. A version that
// already reached the registry stays published.
func (t *Tracker) RecordFailed(name, version, hash string, attempts int, runID string) InventoryItem {
	t.mu.RLock()
	existing, ok := t.inventory.Items[ItemID(name, version)]
	t.mu.RUnlock()
	if ok && existing.Status == ItemStatusPublished {
		return existing
	}
	return t.record(name, version, hash, attempts, runID, ItemStatusFailed)
}

func (t *Tracker) record(name, version, hash string, attempts int, runID string, status ItemStatus) InventoryItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := InventoryItem{
		ID:        ItemID(name, version),
		Name:      name,
		Version:   version,
		Hash:      hash,
		Status:    status,
		Attempts:  attempts,
		RunID:     runID,
		UpdatedAt: time.Now().UTC(),
	}

	t.inventory.Items[item.ID] = item
	t.generation++

	return item
}

// Remove removes an item from the inventory
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inventory.Items, id)
	t.generation++
}

// Get returns an inventory item by ID
func (t *Tracker) Get(id string) (InventoryItem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	item, ok := t.inventory.Items[id]
	return item, ok
}

// IsPublished reports whether name@version was published in a prior run
func (t *Tracker) IsPublished(name, version string) bool {
	item, ok := t.Get(ItemID(name, version))
	return ok && item.Status == ItemStatusPublished
}

// GetAll returns a copy of all inventory items
func (t *Tracker) GetAll() []InventoryItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make([]InventoryItem, 0, len(t.inventory.Items))
	for _, item := range t.inventory.Items {
		items = append(items, item)
	}

	// Sort by ID for deterministic ordering
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})

	return items
}

// GetInventory returns a copy of the inventory
func (t *Tracker) GetInventory() *Inventory {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make(map[string]InventoryItem, len(t.inventory.Items))
	for k, v := range t.inventory.Items {
		items[k] = v
	}

	return &Inventory{Items: items, PlanHash: t.inventory.PlanHash}
}

// FindOrphaned identifies items whose package is no longer in the workspace
func (t *Tracker) FindOrphaned(currentNames map[string]bool) []InventoryItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var orphaned []InventoryItem
	for _, item := range t.inventory.Items {
		if !currentNames[item.Name] {
			item.Status = ItemStatusOrphaned
			orphaned = append(orphaned, item)
		}
	}

	// Sort for deterministic ordering
	sort.Slice(orphaned, func(i, j int) bool {
		return orphaned[i].ID < orphaned[j].ID
	})

	return orphaned
}

// HasDrift reports whether a published version's recorded fingerprint
// differs from hash. Untracked versions and items recorded without a
// fingerprint never drift.
func (t *Tracker) HasDrift(id, hash string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	item, ok := t.inventory.Items[id]
	if !ok || item.Hash == "" {
		return false
	}
	return item.Hash != hash
}

// SetPlanHash records the plan the inventory belongs to
func (t *Tracker) SetPlanHash(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inventory.PlanHash != hash {
		t.inventory.PlanHash = hash
		t.generation++
	}
}

// PlanHash returns the recorded plan hash
func (t *Tracker) PlanHash() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inventory.PlanHash
}

// Size returns the number of items in the inventory
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inventory.Items)
}

// Generation returns the current generation of the inventory
func (t *Tracker) Generation() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// Clear removes all items from the inventory
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inventory.Items = make(map[string]InventoryItem)
	t.inventory.PlanHash = ""
	t.generation++
}

// ComputeHash computes a stable hash over "name@version" identifiers.
// The order of ids does not matter.
func ComputeHash(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(sorted, "\n")))
}

// Serialize serializes the inventory to JSON
func (t *Tracker) Serialize() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return json.MarshalIndent(t.inventory, "", "  ")
}

// Deserialize deserializes the inventory from JSON or YAML
func (t *Tracker) Deserialize(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("failed to deserialize inventory: %w", err)
	}

	if inv.Items == nil {
		inv.Items = make(map[string]InventoryItem)
	}

	t.inventory = &inv
	t.generation++
	return nil
}

// Save writes the inventory to path, replacing it atomically
func (t *Tracker) Save(path string) error {
	data, err := t.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize inventory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create inventory directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".inventory-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary inventory: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace inventory: %w", err)
	}
	return nil
}

// SaveIfChanged saves the inventory when it changed after generation since
// and reports whether it was written
func (t *Tracker) SaveIfChanged(path string, since int64) (bool, error) {
	if t.Generation() == since {
		return false, nil
	}
	if err := t.Save(path); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads an inventory file. A missing file yields an empty tracker.
func Load(path string) (*Tracker, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewTracker(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	t := NewTracker()
	if err := t.Deserialize(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
