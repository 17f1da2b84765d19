package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// LatencyRecorder tracks chat round-trip durations per step and aggregates
// them into a histogram for the end-of-run summary.
type LatencyRecorder struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	steps []stepLatency
}

type stepLatency struct {
	stepID   string
	duration time.Duration
}

// NewLatencyRecorder creates a recorder covering 1ms to 1h round trips.
func NewLatencyRecorder() *LatencyRecorder {
	return &LatencyRecorder{
		hist: hdrhistogram.New(1, time.Hour.Milliseconds(), 3),
	}
}

// Record adds one chat round trip for the given step.
func (r *LatencyRecorder) Record(stepID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, stepLatency{stepID: stepID, duration: d})
	_ = r.hist.RecordValue(d.Milliseconds())
}

// Summary renders the recorded round trips as a human-readable block.
func (r *LatencyRecorder) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.steps) == 0 {
		return "no chat round-trips recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "chat round-trips: n=%d p50=%dms p95=%dms max=%dms",
		r.hist.TotalCount(),
		r.hist.ValueAtQuantile(50),
		r.hist.ValueAtQuantile(95),
		r.hist.Max())
	for _, s := range r.steps {
		fmt.Fprintf(&b, "\n  %s: %dms", s.stepID, s.duration.Milliseconds())
	}
	return b.String()
}
