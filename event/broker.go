// Package event implements the observability broker: every device state
// transition and every successful frame is published here, and sinks (the
// MQTT publisher, WebSocket clients) consume through bounded per-subscriber
// queues. Publishing never blocks; a slow subscriber loses its oldest
// events, never the scheduler's time.
package event

import (
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/pixelfleet/pixeld/drivers"
)

// Type discriminates event payloads.
type Type string

const (
	TypeState   Type = "state"
	TypeMetrics Type = "metrics"
	TypeError   Type = "error"
)

// Event is one observability record.
type Event struct {
	Type Type      `json:"type"`
	Host string    `json:"host"`
	TS   time.Time `json:"ts"`

	State   *StateEvent   `json:"state,omitempty"`
	Metrics *MetricsEvent `json:"metrics,omitempty"`
	Error   *ErrorEvent   `json:"error,omitempty"`
}

// StateEvent is published on every device state transition.
type StateEvent struct {
	Host         string                `json:"host"`
	DeviceType   string                `json:"deviceType"`
	ActiveScene  string                `json:"activeScene"`
	TargetScene  string                `json:"targetScene"`
	Generation   uint64                `json:"generationId"`
	Status       string                `json:"status"`
	PlayState    string                `json:"playState"`
	TS           time.Time             `json:"ts"`
	BuildNumber  string                `json:"buildNumber"`
	GitCommit    string                `json:"gitCommit"`
	Version      string                `json:"version"`
	Capabilities *drivers.Capabilities `json:"capabilities"`
}

// MetricsEvent is published on every successful push.
type MetricsEvent struct {
	Host        string    `json:"host"`
	SceneName   string    `json:"sceneName"`
	FrametimeMs int64     `json:"frametimeMs"`
	Pushes      uint64    `json:"pushes"`
	Errors      uint64    `json:"errors"`
	LastSeen    time.Time `json:"lastSeenTs"`
	Generation  uint64    `json:"generationId"`
}

// ErrorEvent carries a structured failure record.
type ErrorEvent struct {
	Source     string `json:"source"`
	Host       string `json:"host"`
	Scene      string `json:"scene,omitempty"`
	Generation uint64 `json:"generationId"`
	Cause      string `json:"cause"`
}

// DefaultQueueDepth bounds each subscriber's queue.
const DefaultQueueDepth = 256

// Broker fans events out to subscribers.
type Broker struct {
	logger hclog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewBroker(logger hclog.Logger) *Broker {
	return &Broker{
		logger: logger.Named("event"),
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a consumer. host filters to one device; empty
// receives everything. depth <= 0 uses the default.
func (b *Broker) Subscribe(host string, depth int) *Subscription {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		// ErrorReader on crypto/rand is effectively fatal elsewhere
		// too; fall back to a counter-free unique-enough id.
		id = time.Now().Format(time.RFC3339Nano)
	}

	sub := &Subscription{
		id:     id,
		host:   host,
		ch:     make(chan Event, depth),
		broker: b,
	}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Publish delivers e to all matching subscribers without blocking. When a
// subscriber's queue is full its oldest event is dropped to make room, so
// per-device ordering of what remains is preserved.
func (b *Broker) Publish(e Event) {
	if e.TS.IsZero() {
		e.TS = time.Now()
	}

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.host != "" && s.host != e.Host {
			continue
		}
		s.offer(e)
	}
}

func (b *Broker) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

// SubscriberCount is used by tests and the status endpoint.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is one consumer's bounded queue.
type Subscription struct {
	id     string
	host   string
	ch     chan Event
	broker *Broker

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// Events is the consumer side of the queue. The channel closes on
// Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Unsubscribe frees the queue. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.broker.unsubscribe(s.id)
}

// offer enqueues without blocking, dropping the oldest queued event when
// full.
func (s *Subscription) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- e:
			return
		default:
			select {
			case <-s.ch:
				s.dropped++
			default:
			}
		}
	}
}
