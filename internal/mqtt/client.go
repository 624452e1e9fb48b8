package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler processes one inbound message.
type MessageHandler func(topic string, payload []byte) error

// Config holds broker connection settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps a paho client. Subscriptions are replayed after reconnects
// because sessions are clean.
type Client struct {
	client paho.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient connects to the broker.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	c := &Client{logger: logger, subs: make(map[string]subscription)}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) { c.resubscribe() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	logger.Info("mqtt connected", zap.String("broker", cfg.Broker), zap.String("client_id", cfg.ClientID))
	return c, nil
}

// Subscribe registers a handler for a topic filter.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if handler == nil {
		return errors.New("mqtt: nil handler")
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrap(handler))
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends a message and waits for the broker ack or ctx.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

func (c *Client) wrap(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Debug("mqtt message rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()
	for topic, sub := range subs {
		token := c.client.Subscribe(topic, sub.qos, c.wrap(sub.handler))
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}
