package audiocore

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/loopback/internal/errors"
	"github.com/tphakala/loopback/internal/logging"
)

// Resource types recorded by backends.
const (
	ResourceCaptureStream  = "capture_stream"
	ResourcePlaybackStream = "playback_stream"
)

// DefaultLeakCheckInterval is how often the tracker looks for long-lived resources.
const DefaultLeakCheckInterval = 30 * time.Second

// ResourceTracker counts open native resources and reports the ones that are
// never released.
type ResourceTracker struct {
	resources map[string]*TrackedResource
	mu        sync.RWMutex
	logger    *slog.Logger

	leakAge time.Duration

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalAllocated atomic.Int64
	totalReleased  atomic.Int64
	activeCount    atomic.Int32
}

// TrackedResource represents a tracked resource
type TrackedResource struct {
	ID          string
	Type        string
	Owner       string // session id
	AllocatedAt time.Time
	Stack       string
}

// ResourceStats is a snapshot of tracker counters.
type ResourceStats struct {
	TotalAllocated int64
	TotalReleased  int64
	Active         int
	ActiveByType   map[string]int
}

// NewResourceTracker creates a tracker. A positive checkInterval starts a
// background leak detector that warns about resources older than leakAge;
// Close stops it.
func NewResourceTracker(checkInterval, leakAge time.Duration) *ResourceTracker {
	logger := logging.ForService("audiocore")
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	tracker := &ResourceTracker{
		resources: make(map[string]*TrackedResource),
		logger:    logger.With("component", "resource_tracker"),
		leakAge:   leakAge,
		ctx:       ctx,
		cancel:    cancel,
	}

	if checkInterval > 0 {
		tracker.wg.Add(1)
		go tracker.leakDetector(checkInterval)
	}

	return tracker
}

// Track registers a resource. Tracking an id twice is a state error.
func (rt *ResourceTracker) Track(id, resourceType, owner string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.resources[id]; exists {
		return errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Context("resource_id", id).
			Context("error", "resource already tracked").
			Build()
	}

	// Capture stack trace for debugging
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	rt.resources[id] = &TrackedResource{
		ID:          id,
		Type:        resourceType,
		Owner:       owner,
		AllocatedAt: time.Now(),
		Stack:       string(buf[:n]),
	}
	rt.totalAllocated.Add(1)
	rt.activeCount.Add(1)
	return nil
}

// Release marks a resource as released
func (rt *ResourceTracker) Release(id string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.resources[id]; !exists {
		return errors.New(nil).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Context("resource_id", id).
			Context("error", "resource not found").
			Build()
	}

	delete(rt.resources, id)
	rt.totalReleased.Add(1)
	rt.activeCount.Add(-1)
	return nil
}

// Active returns the number of resources not yet released.
func (rt *ResourceTracker) Active() int {
	return int(rt.activeCount.Load())
}

// ActiveFor returns the number of open resources owned by a session.
func (rt *ResourceTracker) ActiveFor(owner string) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	count := 0
	for _, r := range rt.resources {
		if r.Owner == owner {
			count++
		}
	}
	return count
}

// Stats returns resource tracking statistics
func (rt *ResourceTracker) Stats() ResourceStats {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	activeByType := make(map[string]int)
	for _, resource := range rt.resources {
		activeByType[resource.Type]++
	}

	return ResourceStats{
		TotalAllocated: rt.totalAllocated.Load(),
		TotalReleased:  rt.totalReleased.Load(),
		Active:         len(rt.resources),
		ActiveByType:   activeByType,
	}
}

// leakDetector periodically checks for potential leaks
func (rt *ResourceTracker) leakDetector(interval time.Duration) {
	defer rt.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rt.checkForLeaks()
		case <-rt.ctx.Done():
			return
		}
	}
}

// checkForLeaks logs resources older than the leak age and returns their count.
func (rt *ResourceTracker) checkForLeaks() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	now := time.Now()
	leaks := 0
	for id, resource := range rt.resources {
		if age := now.Sub(resource.AllocatedAt); age >= rt.leakAge {
			leaks++
			rt.logger.Warn("potential resource leak detected",
				"resource_id", id,
				"resource_type", resource.Type,
				"owner", resource.Owner,
				"age", age,
				"allocated_at", resource.AllocatedAt)
		}
	}
	return leaks
}

// Close stops the leak detector. Resources still open are logged.
func (rt *ResourceTracker) Close() error {
	rt.cancel()
	rt.wg.Wait()

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for id, resource := range rt.resources {
		rt.logger.Error("resource leaked - not properly closed",
			"resource_id", id,
			"resource_type", resource.Type,
			"owner", resource.Owner,
			"stack", resource.Stack)
	}
	return nil
}
