package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery. A non-nil error requeues the message.
type Handler func(body []byte, routingKey string) error

// Client defines the messaging client interface
type Client interface {
	// PublishJSON publishes a JSON message to the exchange with the given routing key
	PublishJSON(ctx context.Context, routingKey string, data any) error

	// DeclareQueue declares a durable queue and binds it to the routing keys
	DeclareQueue(name string, routingKeys ...string) error

	// Consume consumes messages from the given queue until ctx is done
	Consume(ctx context.Context, queueName string, handler Handler) error

	// Close closes the connection
	Close() error
}

// channel is the part of *amqp.Channel the client drives.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

var _ channel = (*amqp.Channel)(nil)

type queueBinding struct {
	name        string
	routingKeys []string
}

type subscription struct {
	ctx     context.Context
	queue   string
	handler Handler
}

// RabbitMQClient implements the Client interface using RabbitMQ. Queue
// declarations and consumers are remembered and set up again on every new
// channel, so they survive a reconnect.
type RabbitMQClient struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel channel
	config  *config.RabbitMQConfig
	log     *logrus.Entry
	closed  bool

	queues        []queueBinding
	subscriptions []subscription
}

var _ Client = (*RabbitMQClient)(nil)

// NewRabbitMQClient creates a new RabbitMQ client
func NewRabbitMQClient(cfg *config.RabbitMQConfig, log logrus.FieldLogger) (*RabbitMQClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}

	if cfg.Exchange == "" {
		return nil, fmt.Errorf("rabbitmq exchange name is required")
	}

	client := &RabbitMQClient{
		config: cfg,
		log:    logger.Component(log, "rabbitmq"),
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// connect dials the broker and attaches a fresh channel
func (c *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := c.attach(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.handleReconnect(conn)

	return nil
}

// attach declares the exchange on ch, replays every queue declaration and
// live subscription onto it and makes it the current channel.
func (c *RabbitMQClient) attach(ch channel) error {
	err := ch.ExchangeDeclare(
		c.config.Exchange, // name
		"direct",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare an exchange: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, q := range c.queues {
		if err := c.declare(ch, q); err != nil {
			return err
		}
	}

	var live []subscription
	for _, sub := range c.subscriptions {
		if sub.ctx.Err() != nil {
			continue
		}
		if err := c.subscribe(ch, sub); err != nil {
			return err
		}
		live = append(live, sub)
	}
	c.subscriptions = live
	c.channel = ch

	return nil
}

// handleReconnect attempts to reconnect to RabbitMQ when the connection is lost
func (c *RabbitMQClient) handleReconnect(conn *amqp.Connection) {
	connErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok {
		// graceful Close
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.log.WithError(connErr).Warn("RabbitMQ connection closed, attempting to reconnect")

	for i := 0; i < c.config.ReconnectRetries; i++ {
		time.Sleep(time.Duration(c.config.ReconnectTimeout) * time.Millisecond)

		err := c.connect()
		if err == nil {
			c.log.Info("Reconnected to RabbitMQ, queues and consumers restored")
			return
		}

		c.log.WithError(err).Warnf("Failed to reconnect to RabbitMQ (attempt %d/%d)", i+1, c.config.ReconnectRetries)
	}

	c.log.Error("Failed to reconnect to RabbitMQ after multiple attempts")
}

// openChannel must be called with c.mu held.
func (c *RabbitMQClient) openChannel() (channel, error) {
	if c.channel == nil || c.channel.IsClosed() {
		return nil, fmt.Errorf("rabbitmq channel is not open")
	}
	return c.channel, nil
}

// PublishJSON publishes a JSON message to the configured exchange with the given routing key
func (c *RabbitMQClient) PublishJSON(ctx context.Context, routingKey string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON message: %w", err)
	}

	c.mu.Lock()
	ch, err := c.openChannel()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		c.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DeclareQueue declares a queue with the given name and binds it to every
// routing key. The declaration is repeated after a reconnect.
func (c *RabbitMQClient) DeclareQueue(name string, routingKeys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.openChannel()
	if err != nil {
		return err
	}

	q := queueBinding{name: name, routingKeys: routingKeys}
	if err := c.declare(ch, q); err != nil {
		return err
	}
	c.queues = append(c.queues, q)

	return nil
}

func (c *RabbitMQClient) declare(ch channel, q queueBinding) error {
	_, err := ch.QueueDeclare(
		q.name, // name
		true,   // durable
		false,  // delete when unused
		false,  // exclusive
		false,  // no-wait
		nil,    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}

	for _, key := range q.routingKeys {
		if err := ch.QueueBind(q.name, key, c.config.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", q.name, key, err)
		}
	}

	return nil
}

// Consume consumes messages from the given queue until ctx is done. The
// consumer is registered again after a reconnect.
func (c *RabbitMQClient) Consume(ctx context.Context, queueName string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.openChannel()
	if err != nil {
		return err
	}

	sub := subscription{ctx: ctx, queue: queueName, handler: handler}
	if err := c.subscribe(ch, sub); err != nil {
		return err
	}
	c.subscriptions = append(c.subscriptions, sub)

	return nil
}

func (c *RabbitMQClient) subscribe(ch channel, sub subscription) error {
	msgs, err := ch.ConsumeWithContext(sub.ctx,
		sub.queue, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer on %s: %w", sub.queue, err)
	}

	go c.consumeLoop(sub, msgs)

	return nil
}

// consumeLoop acks each delivery its handler accepts and requeues the rest.
// It ends with the subscription's context or its delivery channel.
func (c *RabbitMQClient) consumeLoop(sub subscription, msgs <-chan amqp.Delivery) {
	log := c.log.WithField("queue", sub.queue)
	for {
		select {
		case <-sub.ctx.Done():
			log.Info("Consumer stopped due to context cancellation")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Info("Consumer channel closed")
				return
			}

			if err := sub.handler(msg.Body, msg.RoutingKey); err != nil {
				log.WithError(err).Error("Error processing message")
				msg.Nack(false, true)
			} else {
				msg.Ack(false)
			}
		}
	}
}

// Close closes the connection and channel
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
