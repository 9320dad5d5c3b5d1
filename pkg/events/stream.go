package events

import (
	"log/slog"
	"sync"
)

// DefaultMaxEvents bounds the ring when no explicit size is given.
const DefaultMaxEvents = 1000

// Subscriber receives every emitted event synchronously.
type Subscriber func(AgentEvent)

// Stream is a bounded in-memory ring of agent events. Emission never
// fails: subscriber panics are swallowed so a broken consumer cannot
// break a running cycle.
type Stream struct {
	mu          sync.RWMutex
	events      []AgentEvent
	max         int
	subscribers map[int]Subscriber
	nextToken   int
	running     bool
	runID       string
}

// NewStream creates a stream holding at most maxEvents entries.
// Non-positive maxEvents selects DefaultMaxEvents.
func NewStream(maxEvents int) *Stream {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Stream{
		max:         maxEvents,
		subscribers: make(map[int]Subscriber),
	}
}

// Start begins a new streaming session, clearing prior events.
func (s *Stream) Start(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	s.running = true
	s.events = nil
}

// Stop marks the streaming session inactive. Events remain readable.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Running reports whether a session is active.
func (s *Stream) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunID returns the id of the current (or last) session.
func (s *Stream) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// Emit appends the event, trims the ring to its bound, and delivers the
// event to every subscriber in turn.
func (s *Stream) Emit(e AgentEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		s.deliver(fn, e)
	}
}

func (s *Stream) deliver(fn Subscriber, e AgentEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Event subscriber panicked", "agent_id", e.AgentID, "panic", r)
		}
	}()
	fn(e)
}

// Subscribe registers a callback and returns a token for Unsubscribe.
func (s *Stream) Subscribe(fn Subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextToken
	s.nextToken++
	s.subscribers[token] = fn
	return token
}

// Unsubscribe removes the callback registered under token.
func (s *Stream) Unsubscribe(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, token)
}

// Recent returns the newest n events in emission order.
func (s *Stream) Recent(n int) []AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]AgentEvent, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// All returns every buffered event in emission order.
func (s *Stream) All() []AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ByAgent returns every buffered event emitted by the given agent.
func (s *Stream) ByAgent(agentID string) []AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AgentEvent
	for _, e := range s.events {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// ActiveAgents returns the latest non-complete event per agent, walking
// newest-first. An agent whose most recent activity is a terminal
// complete event is omitted.
func (s *Stream) ActiveAgents() map[string]AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[string]AgentEvent)
	completed := make(map[string]bool)

	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Type == KindComplete {
			completed[e.AgentID] = true
			continue
		}
		if _, seen := active[e.AgentID]; !seen && !completed[e.AgentID] {
			active[e.AgentID] = e
		}
	}
	return active
}
