package release

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/wharf/pkg/graph"
	"github.com/chazu/wharf/pkg/workspace"
)

// scriptedPublisher answers each package's attempts from a script; once the
// script is exhausted attempts succeed
type scriptedPublisher struct {
	mu      sync.Mutex
	script  map[string][]error
	calls   map[string]int
	order   []string
	delay   time.Duration
	blockOn map[string]chan struct{}

	running    int32
	maxRunning int32
}

func newScriptedPublisher() *scriptedPublisher {
	return &scriptedPublisher{
		script:  make(map[string][]error),
		calls:   make(map[string]int),
		blockOn: make(map[string]chan struct{}),
	}
}

func (p *scriptedPublisher) Publish(ctx context.Context, target Target) error {
	current := atomic.AddInt32(&p.running, 1)
	defer atomic.AddInt32(&p.running, -1)
	for {
		prev := atomic.LoadInt32(&p.maxRunning)
		if current <= prev || atomic.CompareAndSwapInt32(&p.maxRunning, prev, current) {
			break
		}
	}

	p.mu.Lock()
	p.calls[target.Name]++
	p.order = append(p.order, target.Name)
	var err error
	if queue := p.script[target.Name]; len(queue) > 0 {
		err = queue[0]
		p.script[target.Name] = queue[1:]
	}
	block := p.blockOn[target.Name]
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return err
}

func (p *scriptedPublisher) callCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *scriptedPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// fakeIndex is an IndexWaiter with a fixed answer
type fakeIndex struct {
	err   error
	calls int32
}

func (f *fakeIndex) Wait(_ context.Context, _, _ string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

var errAuth = errors.New("401 unauthorized")

func errNotVisible(name string) error {
	return Transient(errors.New("no matching package named `" + name + "` found"))
}

func pkg(name string, deps ...string) workspace.Package {
	p := workspace.Package{Name: name, Version: "1.0.0", Path: "/ws/" + name}
	for _, dep := range deps {
		p.Dependencies = append(p.Dependencies, workspace.Dependency{Name: dep, Requirement: "^1.0.0"})
	}
	return p
}

func buildGraph(packages ...workspace.Package) *graph.DependencyGraph {
	g, err := graph.Build(&workspace.Workspace{Packages: packages})
	if err != nil {
		panic(err)
	}
	return g
}

func testOrchestrator(p Publisher, config Config) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(p, config)
	var mu sync.Mutex
	delays := []time.Duration{}
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return o, &delays
}
