// Package stream turns incremental generation output into a throttled
// series of updates for a periodically edited chat message.
package stream

import (
	"strings"
	"sync"
	"time"
)

// NoResponse replaces the final text of a stream that produced nothing,
// so callers never send an empty message.
const NoResponse = "No response"

// State is the lifecycle position of an Aggregator.
type State int

const (
	Idle State = iota
	Streaming
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// EmitKind tells the caller what to do after a Feed.
type EmitKind int

const (
	NoEmit EmitKind = iota
	Partial
	Final
)

func (k EmitKind) String() string {
	switch k {
	case NoEmit:
		return "none"
	case Partial:
		return "partial"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// Emit is the decision returned by Feed. Text is set for Partial and Final.
type Emit struct {
	Kind EmitKind
	Text string
}

// Aggregator accumulates fragments of one generation. It owns no timer;
// the caller drives it by feeding fragments as they arrive.
type Aggregator struct {
	mu          sync.Mutex
	interval    time.Duration
	now         func() time.Time
	state       State
	text        strings.Builder
	lastEmit    time.Time
	lastEmitted string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an idle Aggregator that emits partials at most once per interval.
func New(interval time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start resets the accumulated state and begins a stream.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.text.Reset()
	a.lastEmit = a.now()
	a.lastEmitted = ""
	a.state = Streaming
}

// Feed appends fragment and decides whether an update is due. done marks
// the last fragment and always yields Final.
func (a *Aggregator) Feed(fragment string, done bool) Emit {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Streaming {
		return Emit{Kind: NoEmit}
	}

	a.text.WriteString(fragment)
	current := a.text.String()

	if done {
		a.state = Done
		if strings.TrimSpace(current) == "" {
			return Emit{Kind: Final, Text: NoResponse}
		}
		return Emit{Kind: Final, Text: current}
	}

	now := a.now()
	if now.Sub(a.lastEmit) >= a.interval && current != a.lastEmitted {
		a.lastEmit = now
		a.lastEmitted = current
		return Emit{Kind: Partial, Text: current}
	}

	return Emit{Kind: NoEmit}
}

// Abort ends the stream. Later feeds are ignored; emitted partials stay as they are.
func (a *Aggregator) Abort() {
	a.mu.Lock()
	a.state = Done
	a.mu.Unlock()
}

// Text returns everything accumulated so far.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
