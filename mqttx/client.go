package mqttx

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-hclog"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// ClientConfig configures the broker connection.
type ClientConfig struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string

	// WillTopic/WillPayload set the broker-published last will, used
	// for the daemon's online presence flag.
	WillTopic   string
	WillPayload []byte
}

// Client is the paho-backed Conn.
type Client struct {
	logger hclog.Logger
	c      paho.Client

	// subs records every active filter so it can be replayed after a
	// reconnect: the connection is a clean session, so the broker
	// forgets our subscriptions on every disconnect.
	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Dial connects to the broker and blocks until the connection is
// established or the connect timeout elapses.
func Dial(cfg ClientConfig, logger hclog.Logger) (*Client, error) {
	logger = logger.Named("mqtt")
	cl := &Client{
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectTimeout(connectTimeout).
		SetWriteTimeout(publishTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetBinaryWill(cfg.WillTopic, cfg.WillPayload, 0, true)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(pc paho.Client) {
		logger.Info("connected", "broker", cfg.BrokerURL)
		cl.resubscribe(pc)
	})

	cl.c = paho.NewClient(opts)
	tok := cl.c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to broker %q", cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker %q: %w", cfg.BrokerURL, err)
	}
	return cl, nil
}

// subscriber is the slice of paho.Client that resubscribe needs; narrowed
// so the replay path is testable without a broker.
type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// resubscribe replays every recorded filter on the fresh connection. It
// runs from paho's OnConnect callback, including the initial connect
// (where the set is still empty).
func (c *Client) resubscribe(pc subscriber) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for filter, sub := range c.subs {
		subs[filter] = sub
	}
	c.mu.Unlock()

	for filter, sub := range subs {
		tok := pc.Subscribe(filter, sub.qos, sub.handler)
		go func(filter string) {
			if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
				c.logger.Error("resubscribe failed", "topic", filter, "error", tok.Error())
			}
		}(filter)
	}
}

func (c *Client) Publish(topic string, qos byte, retain bool, payload []byte) error {
	tok := c.c.Publish(topic, qos, retain, payload)
	// Fire and forget; surface the error asynchronously so publishers
	// on the render hot path never block on the broker.
	go func() {
		if tok.WaitTimeout(publishTimeout) && tok.Error() != nil {
			c.logger.Warn("publish failed", "topic", topic, "error", tok.Error())
		}
	}()
	return nil
}

func (c *Client) Subscribe(topic string, qos byte, h Handler) error {
	mh := func(_ paho.Client, m paho.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload()})
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: mh}
	c.mu.Unlock()

	tok := c.c.Subscribe(topic, qos, mh)
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out subscribing to %q", topic)
	}
	if err := tok.Error(); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	tok := c.c.Unsubscribe(topics...)
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out unsubscribing")
	}
	return tok.Error()
}

func (c *Client) Connected() bool {
	return c.c.IsConnectionOpen()
}

func (c *Client) Close() {
	c.c.Disconnect(uint(publishTimeout.Milliseconds()))
}
