package events

import (
	"encoding/json"
	"io"
	"sync"
)

// NDJSONSink writes each event as one JSON line, suitable for appending to
// a run log or piping into jq. Serialization failures are dropped silently;
// the sink must never disturb the caller.
type NDJSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNDJSONSink wraps a writer.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{w: w}
}

// Observe is the Observer to subscribe on a Bus.
func (s *NDJSONSink) Observe(e Event) {
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(append(line, '\n'))
}

// RunSummary writes one summary line for a finished run. Wire it to a
// Tracker's OnComplete so every run log ends with its aggregate stats.
func (s *NDJSONSink) RunSummary(stats RunStats) {
	line, err := json.Marshal(struct {
		Type Type `json:"type"`
		RunStats
	}{Type: RunSummary, RunStats: stats})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(append(line, '\n'))
}
