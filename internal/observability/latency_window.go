package observability

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// OpWarmupStop is the window entry fed by ambient audio stop decisions. Its
// samples measure time from the visitor's OK to the music stopping.
const OpWarmupStop = "warmup_ambient_stop"

// p95 budgets per operation. A kiosk visitor waits on every one of these.
var p95Targets = map[string]time.Duration{
	"streaming.new":          4 * time.Second,
	"streaming.create_token": time.Second,
	"streaming.task":         1500 * time.Millisecond,
	"streaming.stop":         2 * time.Second,
	OpWarmupStop:             5 * time.Second,
}

// OpLatency summarises the recent samples of one operation.
type OpLatency struct {
	Op          string         `json:"op"`
	Samples     int            `json:"samples"`
	LastMS      float64        `json:"last_ms"`
	P50MS       float64        `json:"p50_ms"`
	P95MS       float64        `json:"p95_ms"`
	MaxMS       float64        `json:"max_ms"`
	TargetP95MS float64        `json:"target_p95_ms,omitempty"`
	OverTarget  bool           `json:"over_target"`
	Outcomes    map[string]int `json:"outcomes,omitempty"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time   `json:"generated_at"`
	WindowSize  int         `json:"window_size"`
	Ops         []OpLatency `json:"ops"`
}

// latencyWindow keeps the last size durations of each operation plus a
// running count of every outcome seen.
type latencyWindow struct {
	mu   sync.Mutex
	size int
	ops  map[string]*opSamples
}

type opSamples struct {
	ring     []time.Duration
	pos      int
	count    int
	outcomes map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{size: size, ops: make(map[string]*opSamples)}
}

func (w *latencyWindow) record(op, outcome string, d time.Duration) {
	if op == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.ops[op]
	if s == nil {
		s = &opSamples{ring: make([]time.Duration, w.size), outcomes: make(map[string]int)}
		w.ops[op] = s
	}
	s.ring[s.pos] = d
	s.pos = (s.pos + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	if outcome != "" {
		s.outcomes[outcome]++
	}
}

func (w *latencyWindow) snapshot(now time.Time) LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{GeneratedAt: now.UTC(), WindowSize: w.size, Ops: []OpLatency{}}
	for _, op := range slices.Sorted(maps.Keys(w.ops)) {
		s := w.ops[op]
		if s.count == 0 {
			continue
		}
		// The newest sample sits just behind pos.
		last := s.ring[(s.pos-1+len(s.ring))%len(s.ring)]
		sorted := slices.Clone(s.ring[:s.count])
		slices.Sort(sorted)

		entry := OpLatency{
			Op:      op,
			Samples: s.count,
			LastMS:  millis(last),
			P50MS:   millis(nearestRank(sorted, 50)),
			P95MS:   millis(nearestRank(sorted, 95)),
			MaxMS:   millis(sorted[len(sorted)-1]),
		}
		if target, ok := p95Targets[op]; ok {
			entry.TargetP95MS = millis(target)
			entry.OverTarget = nearestRank(sorted, 95) > target
		}
		if len(s.outcomes) > 0 {
			entry.Outcomes = maps.Clone(s.outcomes)
		}
		snap.Ops = append(snap.Ops, entry)
	}
	return snap
}

// nearestRank returns the pth percentile of an ascending slice.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
