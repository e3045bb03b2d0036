// Package dedup implements alert deduplication and thresholding. Matches are
// grouped by rule ID and dedup key into windows; an alert is emitted once per
// window, on the match that first brings the count to the rule's threshold.
package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// State is the per-key alerting state within the current window.
type State int

const (
	StateBelowThreshold State = iota
	StateAlerted
)

// String returns the state name.
func (s State) String() string {
	if s == StateAlerted {
		return "ALERTED"
	}
	return "BELOW_THRESHOLD"
}

// Key identifies one dedup group.
type Key struct {
	RuleID   string
	DedupKey string
}

// String renders the key for logs and storage. The rule ID is length
// prefixed so IDs and dedup strings containing ':' cannot collide.
func (k Key) String() string {
	return strconv.Itoa(len(k.RuleID)) + ":" + k.RuleID + ":" + k.DedupKey
}

// Policy carries the rule parameters a tracker needs.
type Policy struct {
	Threshold int
	Window    time.Duration
}

func (p Policy) normalized() Policy {
	if p.Threshold < 1 {
		p.Threshold = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}

// Observation is the tracker's view of a key after recording one match.
type Observation struct {
	Count       int
	State       State
	Alert       bool
	WindowStart time.Time
	WindowEnd   time.Time
}

// Tracker records matches and decides when an alert is due. Observe must be
// atomic per key: concurrent observations of the same key never lose a count.
type Tracker interface {
	Observe(ctx context.Context, key Key, policy Policy, at time.Time) (Observation, error)
}

// Window is the open dedup window of one key.
type Window struct {
	Start time.Time
	End   time.Time
	Count int
	State State
}

// Expired reports whether the window no longer covers at.
func (w *Window) Expired(at time.Time) bool {
	return !at.Before(w.End)
}

// advance applies one match at time at to w, opening a fresh window when w is
// nil or expired, and reports the resulting observation.
func advance(w *Window, p Policy, at time.Time) (*Window, Observation) {
	p = p.normalized()
	if w == nil || w.Expired(at) {
		w = &Window{Start: at, End: at.Add(p.Window), State: StateBelowThreshold}
	}
	w.Count++

	alert := false
	if w.State == StateBelowThreshold && w.Count >= p.Threshold {
		w.State = StateAlerted
		alert = true
	}

	return w, Observation{
		Count:       w.Count,
		State:       w.State,
		Alert:       alert,
		WindowStart: w.Start,
		WindowEnd:   w.End,
	}
}

// New builds the tracker named by backend: "memory" or "redis".
func New(backend string, redisCfg RedisConfig) (Tracker, error) {
	switch backend {
	case "", "memory":
		return NewMemoryTracker(), nil
	case "redis":
		return NewRedisTracker(redisCfg)
	}
	return nil, fmt.Errorf("unknown tracker backend %q", backend)
}
