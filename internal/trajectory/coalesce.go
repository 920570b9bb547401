package trajectory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/optimizer"
)

// ErrComputationPanicked is returned to every waiter of a flight whose computation panicked
var ErrComputationPanicked = errors.New("trajectory computation panicked")

// snapshot is the per-student stage a flight computes: signals reduced to a
// scored state. Plans for each constraint set are derived from it.
type snapshot struct {
	studentID string
	asOf      time.Time
	result    Result
}

// planner turns a snapshot into the result for one constraint set
type planner func(ctx context.Context, snap *snapshot, key string, c optimizer.Constraints) (*Result, error)

// flight is one in-progress computation for a student. snap and err are
// written once, before done is closed, and only read after. plans holds one
// shared result per constraint key.
type flight struct {
	done    chan struct{}
	snap    *snapshot
	err     error
	waiters int

	mu    sync.Mutex
	wants map[string]optimizer.Constraints
	plans map[string]*Result
}

func newFlight() *flight {
	return &flight{
		done:  make(chan struct{}),
		wants: make(map[string]optimizer.Constraints),
		plans: make(map[string]*Result),
	}
}

func (f *flight) want(key string, c optimizer.Constraints) {
	f.mu.Lock()
	f.wants[key] = c
	f.mu.Unlock()
}

// plan returns the result for key, building it at most once per flight
func (f *flight) plan(ctx context.Context, key string, c optimizer.Constraints, build planner) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if res, ok := f.plans[key]; ok {
		return res, nil
	}
	res, err := build(ctx, f.snap, key, c)
	if err != nil {
		return nil, err
	}
	f.plans[key] = res
	return res, nil
}

// coalescer runs at most one computation per student at a time. The mutex
// guards the map only; computations run outside it.
type coalescer struct {
	mu      sync.Mutex
	flights map[string]*flight
	timeout time.Duration
}

// newCoalescer returns a coalescer; timeout 0 leaves computations unbounded
func newCoalescer(timeout time.Duration) *coalescer {
	return &coalescer{flights: make(map[string]*flight), timeout: timeout}
}

// do attaches the caller to the flight for key, starting one if needed, and
// returns the plan for planKey. The computation runs detached from ctx so an
// abandoning caller cannot cancel it for the others. joined reports whether
// an existing flight was reused.
func (c *coalescer) do(ctx context.Context, key, planKey string, cons optimizer.Constraints,
	assess func(context.Context) (*snapshot, error), build planner) (res *Result, joined bool, err error) {
	c.mu.Lock()
	f, joined := c.flights[key]
	if joined {
		f.waiters++
	} else {
		f = newFlight()
		f.waiters = 1
		c.flights[key] = f
	}
	f.want(planKey, cons)
	if !joined {
		go c.run(context.WithoutCancel(ctx), key, f, assess, build)
	}
	c.mu.Unlock()

	select {
	case <-f.done:
		if f.err != nil {
			return nil, joined, f.err
		}
		res, err = f.plan(ctx, planKey, cons, build)
		return res, joined, err
	case <-ctx.Done():
		return nil, joined, ctx.Err()
	}
}

// run assesses once, then builds every plan requested so far so that the
// results are cached before the flight leaves the map.
func (c *coalescer) run(ctx context.Context, key string, f *flight,
	assess func(context.Context) (*snapshot, error), build planner) {
	defer func() {
		if r := recover(); r != nil {
			f.snap = nil
			f.err = fmt.Errorf("%w: %v", ErrComputationPanicked, r)
		}
		c.mu.Lock()
		delete(c.flights, key)
		c.mu.Unlock()
		close(f.done)
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	f.snap, f.err = assess(ctx)
	if f.err != nil {
		return
	}

	f.mu.Lock()
	wants := make(map[string]optimizer.Constraints, len(f.wants))
	for k, v := range f.wants {
		wants[k] = v
	}
	f.mu.Unlock()

	// plan errors are per constraint set; waiters see them from their own plan call
	for k, cons := range wants {
		_, _ = f.plan(ctx, k, cons, build)
	}
}

// waiters returns how many callers are attached to the flight for key
func (c *coalescer) waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[key]; ok {
		return f.waiters
	}
	return 0
}

// inflight returns the number of running computations
func (c *coalescer) inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}
