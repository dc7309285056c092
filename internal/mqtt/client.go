// Package mqtt accepts cycling commands over MQTT and publishes the retained
// cycling state of every target.
package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/config"
)

const (
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	maxReconnectInterval     = time.Minute
)

var (
	ErrNotConnected     = errors.New("mqtt client not connected")
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishFailed    = errors.New("mqtt publish failed")
)

// MessageHandler handles one received message. Errors are logged.
type MessageHandler func(topic string, payload []byte) error

// Publisher publishes a message on a topic.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Client wraps the paho client. Subscriptions are restored on reconnect.
type Client struct {
	client  pahomqtt.Client
	qos     byte
	timeout time.Duration
	topics  Topics

	subMu         sync.RWMutex
	subscriptions map[string]MessageHandler

	onConnect func()
}

// Connect connects to the broker. The retained status topic reads "online"
// while connected and "offline" after a clean or unexpected disconnect.
func Connect(cfg config.MQTTConfig, onConnect func()) (*Client, error) {
	c := &Client{
		qos:           cfg.QoS,
		timeout:       cfg.Timeout.Duration(),
		topics:        Topics{Prefix: cfg.Prefix},
		subscriptions: make(map[string]MessageHandler),
		onConnect:     onConnect,
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(c.timeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(c.topics.Status(), "offline", c.qos, true)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, c.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("Connected to MQTT broker")
	return c, nil
}

func (c *Client) handleConnect() {
	c.subMu.RLock()
	for topic, handler := range c.subscriptions {
		c.client.Subscribe(topic, c.qos, wrapHandler(handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.Status(), c.qos, true, "online")

	if c.onConnect != nil {
		c.onConnect()
	}
}

// Subscribe subscribes to topic and remembers the subscription for reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.qos, wrapHandler(handler))
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("failed to subscribe to %s: timeout after %v", topic, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	log.Debug().Str("topic", topic).Msg("Subscribed to MQTT topic")
	return nil
}

// Publish publishes payload with the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() {
	if c.client.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.qos, true, "offline")
		token.WaitTimeout(c.timeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	log.Info().Msg("Disconnected from MQTT broker")
}

func wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panicked")
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT message rejected")
		}
	}
}
