package router

import (
	"encoding/json"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/mqttx"
)

// MQTTPublisher is the broker-facing observability sink: state
// transitions go to <base>/<host>/scene/state, per-frame metrics to
// <base>/<host>/ok and structured errors to <base>/<host>/error. It
// drains its bounded broker subscription in its own goroutine, so a slow
// broker never stalls a scheduler.
type MQTTPublisher struct {
	logger hclog.Logger
	conn   mqttx.Conn
	base   string
	sub    *event.Subscription
	wg     sync.WaitGroup
}

func NewMQTTPublisher(broker *event.Broker, conn mqttx.Conn, topicBase string, logger hclog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		logger: logger.Named("mqtt-publisher"),
		conn:   conn,
		base:   topicBase,
		sub:    broker.Subscribe("", 0),
	}
}

func (p *MQTTPublisher) Start() {
	p.wg.Add(1)
	go p.pump()
}

func (p *MQTTPublisher) Stop() {
	p.sub.Unsubscribe()
	p.wg.Wait()
}

func (p *MQTTPublisher) pump() {
	defer p.wg.Done()
	for e := range p.sub.Events() {
		var (
			topic string
			body  any
		)
		switch e.Type {
		case event.TypeState:
			topic = p.base + "/" + e.Host + "/scene/state"
			body = e.State
		case event.TypeMetrics:
			topic = p.base + "/" + e.Host + "/ok"
			body = e.Metrics
		case event.TypeError:
			topic = p.base + "/" + e.Host + "/error"
			body = e.Error
		default:
			continue
		}
		buf, err := json.Marshal(body)
		if err != nil {
			p.logger.Error("failed to encode event", "type", e.Type, "error", err)
			continue
		}
		if err := p.conn.Publish(topic, 0, false, buf); err != nil {
			p.logger.Warn("event publish failed", "topic", topic, "error", err)
		}
	}
}
