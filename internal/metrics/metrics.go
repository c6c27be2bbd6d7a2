// Package metrics keeps in-process counters for a triage run. Counters are
// plain integers behind a mutex; Snapshot returns copies safe to render.
package metrics

import (
	"sync"
	"time"
)

// Collector accumulates counters across units and cycles.
type Collector struct {
	mu              sync.Mutex
	started         time.Time
	unitsByState    map[string]int64
	filesByCategory map[string]int64
	transformations map[string]int64
	boundViolations int64
	toolFailures    int64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime          time.Duration
	UnitsByState    map[string]int64
	FilesByCategory map[string]int64
	Transformations map[string]int64
	BoundViolations int64
	ToolFailures    int64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started:         time.Now(),
		unitsByState:    make(map[string]int64),
		filesByCategory: make(map[string]int64),
		transformations: make(map[string]int64),
	}
}

// UnitFinished records a unit reaching a terminal state.
func (c *Collector) UnitFinished(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unitsByState[state]++
}

// FileClassified records one file landing in a category.
func (c *Collector) FileClassified(category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filesByCategory[category]++
}

// Transformation records a completed transformation by kind, such as
// "extracted" or "converted".
func (c *Collector) Transformation(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transformations[kind]++
}

// BoundViolation records an archive that blew a resource bound.
func (c *Collector) BoundViolation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundViolations++
}

// ToolFailure records an external tool invocation that failed.
func (c *Collector) ToolFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolFailures++
}

// Snapshot copies the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Uptime:          time.Since(c.started),
		UnitsByState:    copyCounts(c.unitsByState),
		FilesByCategory: copyCounts(c.filesByCategory),
		Transformations: copyCounts(c.transformations),
		BoundViolations: c.boundViolations,
		ToolFailures:    c.toolFailures,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
