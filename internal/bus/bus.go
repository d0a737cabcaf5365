// Package bus is the in-process pub/sub fabric connecting the command
// router to the gateway's live feeds (SSE, WebSocket) and to the
// maintenance jobs. Delivery is non-blocking: slow consumers drop
// events rather than stalling command execution.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Command lifecycle topics.
const (
	TopicCommandStarted   = "command.started"
	TopicCommandSucceeded = "command.succeeded"
	TopicCommandFailed    = "command.failed"
	TopicCommandFrame     = "command.stream.frame"
)

// Session lifecycle topics.
const (
	TopicSessionCreated    = "session.created"
	TopicSessionExpired    = "session.expired"
	TopicSessionTerminated = "session.terminated"
)

// Maintenance topics.
const (
	TopicSweepSessions = "maintenance.sweep.sessions"
	TopicSweepAgents   = "maintenance.sweep.agents"
)

// CommandEvent is published at every lifecycle transition of a single
// command execution.
type CommandEvent struct {
	CorrelationID string // Correlation id tagging every log line of this execution
	Command       string // Text form action:targetType:targetId
	AgentID       string // Resolved agent, empty before resolution
	SessionID     string // Resolved session, empty before resolution
	DurationMS    int64  // Elapsed time, zero on started events
	ErrorCode     string // Taxonomy code on failed events
}

// FrameEvent is published for each frame of a streamed execution.
type FrameEvent struct {
	CorrelationID string // Correlation id of the streaming execution
	Command       string // Text form action:targetType:targetId
	FrameType     string // progress, result, or error
	Data          any    // Frame payload
}

// SessionEvent is published when a session is created, expires, or is
// terminated.
type SessionEvent struct {
	SessionID string // Session id
	AgentID   string // Owning agent
}

// SweepEvent is published after each maintenance sweep.
type SweepEvent struct {
	Expired int // Records transitioned this sweep
	Purged  int // Records removed entirely
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// The returned channel has a buffer of 100 events; slow consumers will miss events
// (non-blocking send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers.
// Delivery is non-blocking: if a subscriber's buffer is full, the event is dropped.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			// Non-blocking send.
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
