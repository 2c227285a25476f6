package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the event sink the vault components write to. Tests substitute
// a recording implementation; production uses Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

// Client wraps a NATS connection for publishing and consuming vault events.
type Client struct {
	conn       *nats.Conn
	subs       map[string]*nats.Subscription
	mu         sync.RWMutex
	reconnects int
	connected  bool
}

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// NewClient connects to NATS.
func NewClient(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client := &Client{
		conn:      conn,
		subs:      make(map[string]*nats.Subscription),
		connected: true,
	}

	conn.SetReconnectHandler(func(nc *nats.Conn) {
		client.reconnects++
		client.connected = true
	})

	conn.SetDisconnectErrHandler(func(nc *nats.Conn, err error) {
		client.connected = false
	})

	return client, nil
}

// Publish publishes a JSON-encoded event to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	return c.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.subs[subject] = sub
	return nil
}

// QueueSubscribe subscribes to a subject with a queue group so only one
// archiver instance processes each event.
func (c *Client) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := subject + ":" + queue
	if _, exists := c.subs[key]; exists {
		return fmt.Errorf("already subscribed to %s with queue %s", subject, queue)
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("failed to queue subscribe: %w", err)
	}

	c.subs[key] = sub
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, exists := c.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to %s", subject)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	delete(c.subs, subject)
	return nil
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

// Reconnects returns the number of reconnections.
func (c *Client) Reconnects() int {
	return c.reconnects
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, subject)
	}

	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	return nil
}

// Drain drains the connection, letting in-flight messages finish.
func (c *Client) Drain() error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.Drain()
}
