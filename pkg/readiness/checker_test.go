package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// delayedIndex starts listing a version after a number of queries
type delayedIndex struct {
	mu      sync.Mutex
	after   int
	queries int
}

func (d *delayedIndex) Versions(_ context.Context, name string) ([]IndexEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries++
	if d.queries <= d.after {
		return nil, ErrPackageNotFound
	}
	return []IndexEntry{{Version: "1.0.1"}}, nil
}

func TestChecker_Check(t *testing.T) {
	idx := &fakeIndex{entries: map[string][]IndexEntry{"core": {{Version: "1.0.1"}}}}
	checker, err := NewChecker(idx, CheckerConfig{Predicates: []string{PredicateExists, PredicateVersionPublished}})
	if err != nil {
		t.Fatal(err)
	}

	ready, err := checker.Check(context.Background(), "core", "1.0.1")
	if err != nil || !ready {
		t.Errorf("Check() = %v, %v; want ready", ready, err)
	}

	ready, err = checker.Check(context.Background(), "core", "1.0.2")
	if err != nil || ready {
		t.Errorf("Check() = %v, %v; want not ready", ready, err)
	}
}

func TestChecker_WaitUntilVisible(t *testing.T) {
	idx := &delayedIndex{after: 2}
	checker, err := NewChecker(idx, CheckerConfig{Interval: time.Millisecond, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	if err := checker.Wait(context.Background(), "core", "1.0.1"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if idx.queries != 3 {
		t.Errorf("expected 3 queries, got %d", idx.queries)
	}
}

func TestChecker_WaitTimeout(t *testing.T) {
	idx := &fakeIndex{entries: map[string][]IndexEntry{}}
	checker, err := NewChecker(idx, CheckerConfig{Interval: time.Millisecond, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	err = checker.Wait(context.Background(), "core", "1.0.1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if idx.calls < 2 {
		t.Errorf("expected repeated polling, got %d queries", idx.calls)
	}
}

func TestChecker_WaitCancelled(t *testing.T) {
	idx := &fakeIndex{entries: map[string][]IndexEntry{}}
	checker, err := NewChecker(idx, CheckerConfig{Interval: time.Millisecond, Timeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := checker.Wait(ctx, "core", "1.0.1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewChecker(t *testing.T) {
	if _, err := NewChecker(nil, CheckerConfig{}); err == nil {
		t.Error("expected error for nil index")
	}
	if _, err := NewChecker(&fakeIndex{}, CheckerConfig{Predicates: []string{"Bogus"}}); err == nil {
		t.Error("expected error for unknown predicate")
	}

	checker, err := NewChecker(&fakeIndex{}, CheckerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if checker.config.Interval != 2*time.Second || checker.config.Timeout != time.Minute {
		t.Errorf("expected defaults, got %+v", checker.config)
	}
}
