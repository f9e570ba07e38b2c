// mqtt.go: Package mqtt provides the device message bus abstraction.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klahtinen/deskbell-go/internal/logging"
)

// MessageHandler is invoked for every inbound message on a subscribed topic.
// Handlers must be idempotent: the bus delivers at least once.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for device bus operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic, retrying with
	// exponential backoff before giving up.
	Publish(ctx context.Context, topic string, payload string) error

	// Subscribe registers a handler for a topic filter.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	// Publish retry policy: PublishAttempts tries total, delay doubling
	// from PublishRetryDelay between attempts.
	PublishAttempts   int
	PublishRetryDelay time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		PublishAttempts:   3,
		PublishRetryDelay: 2 * time.Second,
	}
}

// Topic builds a bus topic of the shape <namespace>/<deviceClientId>/<action>.
func Topic(namespace, clientID, action string) string {
	return strings.Join([]string{namespace, clientID, action}, "/")
}

// Package-level logger for MQTT related events
var mqttLogger *slog.Logger

func init() {
	var err error
	mqttLogger, _, err = logging.NewFileLogger("logs/mqtt.log", "mqtt", slog.LevelInfo)
	if err != nil {
		// Fall back to the default structured logger
		mqttLogger = logging.Structured()
		if mqttLogger == nil {
			mqttLogger = slog.Default()
		}
		mqttLogger = mqttLogger.With("service", "mqtt")
		logging.Warn(fmt.Sprintf("MQTT service falling back to default logger: %v", err))
	}
}
