// client.go: paho-backed implementation of the bus client.
package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/errors"
)

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	subscriptions   map[string]MessageHandler
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
}

// NewClient creates a new MQTT client from the application settings.
func NewClient(settings *conf.Settings) Client {
	config := DefaultConfig()
	config.Broker = settings.MQTT.Broker
	config.ClientID = settings.Main.Name
	config.Username = settings.MQTT.Username
	config.Password = settings.MQTT.Password

	return &client{
		config:        config,
		subscriptions: make(map[string]MessageHandler),
		reconnectStop: make(chan struct{}),
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < c.config.ReconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", time.Since(c.lastConnAttempt))
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(fmt.Errorf("invalid broker URL: %w", err)).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()

	// Resolve the hostname first so DNS failures surface clearly
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(fmt.Errorf("failed to resolve hostname %s: %w", host, err)).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetConnectRetry(true)

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(fmt.Errorf("connection error: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	return nil
}

// Publish sends a message to the specified topic, retrying with exponential
// backoff (delay doubling from the configured base) before giving up.
func (c *client) Publish(ctx context.Context, topic string, payload string) error {
	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	var lastErr error
	delay := c.config.PublishRetryDelay

	for attempt := 1; attempt <= c.config.PublishAttempts; attempt++ {
		lastErr = c.publishOnce(topic, payload)
		if lastErr == nil {
			return nil
		}

		mqttLogger.Warn("publish attempt failed",
			"topic", topic,
			"attempt", attempt,
			"error", lastErr)

		if attempt == c.config.PublishAttempts {
			break
		}

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component("mqtt").
				Category(errors.CategoryTimeout).
				Context("topic", topic).
				Build()
		}
	}

	return errors.New(fmt.Errorf("publish to %s failed after %d attempts: %w",
		topic, c.config.PublishAttempts, lastErr)).
		Component("mqtt").
		Category(errors.CategoryMQTTPublish).
		Build()
}

func (c *client) publishOnce(topic, payload string) error {
	token := c.internalClient.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Subscribe registers a handler for a topic filter. Subscriptions are
// replayed on reconnect.
func (c *client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	connected := c.IsConnected()
	c.mu.Unlock()

	if !connected {
		// Will be established by onConnect
		return nil
	}
	return c.subscribeOnBroker(topic, handler)
}

func (c *client) subscribeOnBroker(topic string, handler MessageHandler) error {
	token := c.internalClient.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("subscribe timeout for topic %s", topic).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(fmt.Errorf("subscribe error for topic %s: %w", topic, err)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker. Safe to call more
// than once; a deferred disconnect may race an explicit one on shutdown.
func (c *client) Disconnect() {
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(250)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.stopOnce.Do(func() {
		close(c.reconnectStop)
	})
}

func (c *client) onConnect(_ mqtt.Client) {
	mqttLogger.Info("connected to MQTT broker", "broker", c.config.Broker)

	// Re-establish subscriptions after (re)connect
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subscriptions))
	for topic, handler := range c.subscriptions {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribeOnBroker(topic, handler); err != nil {
			mqttLogger.Error("failed to restore subscription", "topic", topic, "error", err)
		}
	}
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	mqttLogger.Warn("connection to MQTT broker lost", "broker", c.config.Broker, "error", err)
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			mqttLogger.Info("successfully reconnected to MQTT broker")
			return
		}

		mqttLogger.Warn("failed to reconnect to MQTT broker", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
