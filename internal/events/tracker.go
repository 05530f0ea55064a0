package events

import (
	"sync"
	"time"
)

// RunStats aggregates one session's activity. While a run is in flight the
// stats grow with each event; on run completion (or error) the final copy is
// handed to the OnComplete callback and the session is dropped.
type RunStats struct {
	SessionID string `json:"sessionId"`

	Iterations int `json:"iterations"`

	Calls     int `json:"calls"`
	Errors    int `json:"errors"`
	Retries   int `json:"retries"`
	CacheHits int `json:"cacheHits"`

	ToolCalls     int `json:"toolCalls"`
	ToolErrors    int `json:"toolErrors"`
	ToolCacheHits int `json:"toolCacheHits"`

	MemoryOps int `json:"memoryOps"`

	PlanTime time.Duration `json:"planTimeNs"`
	ToolTime time.Duration `json:"toolTimeNs"`
	StepTime time.Duration `json:"stepTimeNs"`

	ContextTokens    int `json:"contextTokens"`
	MaxContextTokens int `json:"maxContextTokens"`

	PromptTokens int     `json:"promptTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`

	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsedNs"`
}

// Tracker accumulates per-session stats from the event stream. Attach it to
// a bus with Observe.
type Tracker struct {
	mu         sync.Mutex
	sessions   map[string]*RunStats
	onComplete func(RunStats)
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*RunStats)}
}

// OnComplete registers a callback that receives the final stats of every
// finished run, successful or not. The callback runs outside the tracker
// lock, on the emitting goroutine.
func (t *Tracker) OnComplete(fn func(RunStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
}

// Observe is the Observer to subscribe on a Bus.
func (t *Tracker) Observe(e Event) {
	if e.SessionID == "" {
		return
	}
	t.mu.Lock()
	s, ok := t.sessions[e.SessionID]
	if !ok {
		s = &RunStats{SessionID: e.SessionID, StartedAt: e.Time}
		t.sessions[e.SessionID] = s
	}

	switch e.Type {
	case CallStart:
		s.Calls++
	case CallSuccess:
		s.PromptTokens += e.Usage.Prompt
		s.OutputTokens += e.Usage.Completion
		s.CostUSD += e.CostUSD
	case CallError:
		s.Errors++
	case CallRetry:
		s.Retries++
	case CallCacheHit:
		s.CacheHits++
	case RunPlan:
		s.PlanTime += e.Duration
	case StepStart:
		s.Iterations++
		if n, ok := e.Fields["contextTokens"].(int); ok {
			s.ContextTokens += n
			if n > s.MaxContextTokens {
				s.MaxContextTokens = n
			}
		}
	case StepDone:
		s.StepTime += e.Duration
	case ToolStart:
		s.ToolCalls++
	case ToolEnd:
		s.ToolTime += e.Duration
	case ToolError:
		s.ToolErrors++
		s.ToolTime += e.Duration
	case ToolCacheHit:
		s.ToolCacheHits++
	case MemoryAppend, MemorySummarize, MemoryTrim:
		s.MemoryOps++
	case RunError:
		s.Errors++
	}

	if e.Type != RunComplete && e.Type != RunError {
		t.mu.Unlock()
		return
	}

	// Run finished: flush the final snapshot and forget the session.
	final := *s
	final.Elapsed = e.Time.Sub(final.StartedAt)
	delete(t.sessions, e.SessionID)
	fn := t.onComplete
	t.mu.Unlock()

	if fn != nil {
		fn(final)
	}
}

// Snapshot returns a copy of the in-flight stats for session, with Elapsed
// filled in. The second return is false when the session is not currently
// tracked.
func (t *Tracker) Snapshot(sessionID string) (RunStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return RunStats{}, false
	}
	out := *s
	out.Elapsed = time.Since(out.StartedAt)
	return out, true
}

// Reset drops a session's stats.
func (t *Tracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}
