// Package mqttx wraps the MQTT transport behind a small connection
// interface so the daemon, drivers and tests can share one contract. The
// real implementation rides on the Eclipse Paho client; MemBus provides an
// in-process broker for tests and offline operation.
package mqttx

// Message is one inbound publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes inbound publications. Handlers must not block; slow
// consumers should hand off to their own goroutine or queue.
type Handler func(Message)

// Conn is the transport contract. Publish and Subscribe are safe for
// concurrent use and never block on the network; the implementation
// enqueues and delivers asynchronously.
type Conn interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
	Subscribe(topic string, qos byte, h Handler) error
	Unsubscribe(topics ...string) error
	Connected() bool
	Close()
}
