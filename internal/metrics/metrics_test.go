package metrics

import (
	"sync"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.UnitFinished("READY")
	c.UnitFinished("READY")
	c.UnitFinished("EXCEPTIONS_1")
	c.FileClassified("direct")
	c.Transformation("extracted")
	c.BoundViolation()
	c.ToolFailure()

	snap := c.Snapshot()
	if snap.UnitsByState["READY"] != 2 {
		t.Fatalf("READY count = %d", snap.UnitsByState["READY"])
	}
	if snap.UnitsByState["EXCEPTIONS_1"] != 1 {
		t.Fatalf("EXCEPTIONS_1 count = %d", snap.UnitsByState["EXCEPTIONS_1"])
	}
	if snap.FilesByCategory["direct"] != 1 || snap.Transformations["extracted"] != 1 {
		t.Fatal("file or transformation counters wrong")
	}
	if snap.BoundViolations != 1 || snap.ToolFailures != 1 {
		t.Fatal("violation counters wrong")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.UnitFinished("READY")
	snap := c.Snapshot()
	snap.UnitsByState["READY"] = 99
	if c.Snapshot().UnitsByState["READY"] != 1 {
		t.Fatal("snapshot mutation leaked into collector")
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.FileClassified("convert")
			}
		}()
	}
	wg.Wait()
	if got := c.Snapshot().FilesByCategory["convert"]; got != 800 {
		t.Fatalf("convert count = %d, want 800", got)
	}
}
