// Package events provides the in-process lifecycle notification bus and its
// audit-log sink.
package events

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/msageha/agentflow/internal/model"
)

// Kind tags a lifecycle event.
type Kind string

const (
	KindTaskCreated   Kind = "task_created"
	KindTaskStarted   Kind = "task_started"
	KindTaskCompleted Kind = "task_completed"
	KindTaskFailed    Kind = "task_failed"
	KindTaskBlocked   Kind = "task_blocked"
	KindTaskCancelled Kind = "task_cancelled"

	KindProjectStarted   Kind = "project_started"
	KindProjectCompleted Kind = "project_completed"

	KindSystemAlert Kind = "system_alert"
)

// Event is a lifecycle notification. Events are immutable once published.
type Event struct {
	ID        string
	Kind      Kind
	Source    model.Role
	Target    model.Role
	Payload   map[string]any
	SessionID string
	Timestamp time.Time
}

// Subscriber receives matching events.
type Subscriber func(Event)

type subscription struct {
	pattern string
	fn      Subscriber
}

// Bus is a publish/subscribe channel for lifecycle events. Delivery is
// synchronous: for one publisher, callbacks run in subscription order and
// publish order is delivery order. A bounded ring buffer retains recent
// events for replay.
type Bus struct {
	mu       sync.Mutex
	subs     []*subscription
	history  []Event
	head     int
	capacity int
	logger   *log.Logger
}

// NewBus creates a bus retaining up to capacity events. Capacity 0 disables
// retention; delivery is unaffected.
func NewBus(capacity int, logger *log.Logger) *Bus {
	if capacity < 0 {
		capacity = 0
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Bus{
		capacity: capacity,
		logger:   logger,
	}
}

// Subscribe registers a callback for events whose kind matches pattern:
// an exact kind name, "*" for every event, or a prefix ending in "*"
// (e.g. "task_*"). Returns an unsubscribe function.
func (b *Bus) Subscribe(pattern string, fn Subscriber) func() {
	sub := &subscription{pattern: pattern, fn: fn}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

// Publish stamps the event, appends it to the history buffer (evicting the
// oldest entry at capacity), and invokes every matching subscriber in
// subscription order. A panicking subscriber is recovered and logged; the
// remaining subscribers still run. Delivery is best-effort, at most once
// per subscriber.
func (b *Bus) Publish(e Event) Event {
	e.Timestamp = time.Now().UTC()
	if e.ID == "" {
		e.ID = model.MustGenerateID(model.IDTypeEvent)
	}

	b.mu.Lock()
	b.record(e)
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matches(sub.pattern, e.Kind) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may publish or
	// subscribe without deadlocking.
	for _, sub := range matched {
		b.deliver(sub, e)
	}
	return e
}

func (b *Bus) deliver(sub *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("event subscriber panic pattern=%s kind=%s: %v", sub.pattern, e.Kind, r)
		}
	}()
	sub.fn(e)
}

// record appends to the ring buffer. Caller holds b.mu.
func (b *Bus) record(e Event) {
	if b.capacity == 0 {
		return
	}
	if len(b.history) < b.capacity {
		b.history = append(b.history, e)
		return
	}
	b.history[b.head] = e
	b.head = (b.head + 1) % b.capacity
}

// History returns retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.history))
	out = append(out, b.history[b.head:]...)
	out = append(out, b.history[:b.head]...)
	return out
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	all := b.History()
	if n < 0 {
		n = 0
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// SubscriberCount reports the current number of subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func matches(pattern string, kind Kind) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(string(kind), pattern[:len(pattern)-1])
	}
	return pattern == string(kind)
}
