package mqttx

import (
	"strings"
	"sync"
)

// MemBus is an in-process Conn with MQTT wildcard matching. It backs tests
// and lets the daemon run without a broker configured.
type MemBus struct {
	mu     sync.Mutex
	subs   []*memSub
	closed bool

	// Retained stores the last payload per topic published with
	// retain=true, mirroring broker behavior for late subscribers.
	retained map[string][]byte
}

type memSub struct {
	filter string
	h      Handler
}

func NewMemBus() *MemBus {
	return &MemBus{retained: make(map[string][]byte)}
}

func (b *MemBus) Publish(topic string, _ byte, retain bool, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if retain {
		b.retained[topic] = append([]byte(nil), payload...)
	}
	subs := make([]*memSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if TopicMatches(s.filter, topic) {
			s.h(Message{Topic: topic, Payload: payload})
		}
	}
	return nil
}

func (b *MemBus) Subscribe(filter string, _ byte, h Handler) error {
	b.mu.Lock()
	b.subs = append(b.subs, &memSub{filter: filter, h: h})
	var replay []Message
	for topic, payload := range b.retained {
		if TopicMatches(filter, topic) {
			replay = append(replay, Message{Topic: topic, Payload: payload})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		h(m)
	}
	return nil
}

func (b *MemBus) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		for i := 0; i < len(b.subs); {
			if b.subs[i].filter == t {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				continue
			}
			i++
		}
	}
	return nil
}

func (b *MemBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *MemBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}

// TopicMatches implements MQTT filter matching with + and # wildcards.
func TopicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
