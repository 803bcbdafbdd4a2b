// Package messagingtest provides an in-memory messaging.Client for tests.
package messagingtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
)

var _ messaging.Client = (*Client)(nil)

// Message is one published message.
type Message struct {
	RoutingKey string
	Body       []byte
}

// Client records published messages and lets tests deliver messages to the
// registered consumers.
type Client struct {
	mu        sync.Mutex
	published []Message
	handlers  map[string]messaging.Handler
	bindings  map[string][]string
	notify    chan Message
	closed    bool

	// PublishErr, when set, is returned by PublishJSON.
	PublishErr error
}

func New() *Client {
	return &Client{
		handlers: map[string]messaging.Handler{},
		bindings: map[string][]string{},
		notify:   make(chan Message, 64),
	}
}

func (c *Client) PublishJSON(_ context.Context, routingKey string, data any) error {
	if c.PublishErr != nil {
		return c.PublishErr
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	msg := Message{RoutingKey: routingKey, Body: body}
	c.mu.Lock()
	c.published = append(c.published, msg)
	c.mu.Unlock()

	select {
	case c.notify <- msg:
	default:
	}
	return nil
}

func (c *Client) DeclareQueue(name string, routingKeys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = append(c.bindings[name], routingKeys...)
	return nil
}

func (c *Client) Consume(_ context.Context, queueName string, handler messaging.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[queueName] = handler
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Deliver hands a message to the consumer of queueName, as the broker would.
func (c *Client) Deliver(queueName, routingKey string, body []byte) error {
	c.mu.Lock()
	handler, ok := c.handlers[queueName]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(body, routingKey)
}

// Published returns a copy of every published message.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Bindings returns the routing keys bound to queueName.
func (c *Client) Bindings(queueName string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bindings[queueName]...)
}

// Consuming reports whether a consumer is registered on queueName.
func (c *Client) Consuming(queueName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[queueName]
	return ok
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Next returns a channel that receives published messages as they arrive.
func (c *Client) Next() <-chan Message {
	return c.notify
}
