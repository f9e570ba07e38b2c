package device

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/klahtinen/deskbell-go/internal/logging"
	"github.com/klahtinen/deskbell-go/internal/mqtt"
)

// Inbound bus actions (third topic segment onward).
const (
	ActionButtonPressed   = "button/pressed"
	ActionDoorOpened      = "door/opened"
	ActionTeacherSelected = "teacher/selected"
	ActionHeartbeat       = "heartbeat"
)

// buttonPressedEvent is the payload of a ring. The target is optional; an
// absent or null target rings everyone present.
type buttonPressedEvent struct {
	TargetTeacherID *uint `json:"targetTeacherId,omitempty"`
}

// teacherSelectedEvent is the payload of a panel selection.
type teacherSelectedEvent struct {
	TeacherID uint `json:"teacherId"`
}

// heartbeatEvent carries the device kind; the device id comes from the topic.
type heartbeatEvent struct {
	Kind string `json:"type"`
}

// handlerTimeout bounds the work done for one inbound bus message.
const handlerTimeout = 30 * time.Second

// Dispatcher subscribes to device topics and routes each message to the
// orchestrator. Malformed payloads and unknown devices are logged and
// dropped; a bus message cannot be answered with an error anyway.
type Dispatcher struct {
	bus          mqtt.Client
	orchestrator *Orchestrator
	namespace    string
	logger       *slog.Logger
}

// NewDispatcher creates a dispatcher over the given bus namespace.
func NewDispatcher(bus mqtt.Client, orchestrator *Orchestrator, namespace string) *Dispatcher {
	logger := logging.ForService("device")
	if logger == nil {
		logger = slog.Default().With("service", "device")
	}
	return &Dispatcher{
		bus:          bus,
		orchestrator: orchestrator,
		namespace:    namespace,
		logger:       logger,
	}
}

// Subscribe registers all inbound device subscriptions. The single-level
// wildcard stands in for the device client id.
func (d *Dispatcher) Subscribe() error {
	subscriptions := map[string]mqtt.MessageHandler{
		mqtt.Topic(d.namespace, "+", ActionButtonPressed):   d.onButtonPressed,
		mqtt.Topic(d.namespace, "+", ActionDoorOpened):      d.onDoorOpened,
		mqtt.Topic(d.namespace, "+", ActionTeacherSelected): d.onTeacherSelected,
		mqtt.Topic(d.namespace, "+", ActionHeartbeat):       d.onHeartbeat,
	}
	for topic, handler := range subscriptions {
		if err := d.bus.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) onButtonPressed(topic string, payload []byte) {
	clientID := clientIDFromTopic(topic)
	if clientID == "" {
		d.logger.Warn("malformed topic", "topic", topic)
		return
	}

	var event buttonPressedEvent
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event); err != nil {
			d.logger.Warn("malformed button payload", "topic", topic, "error", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	created, err := d.orchestrator.HandleButtonPressed(ctx, clientID, event.TargetTeacherID)
	if err != nil {
		d.logger.Error("button press failed", "client_id", clientID, "error", err)
		return
	}
	d.logger.Info("ring accepted", "client_id", clientID, "visit_id", created.ID)
}

func (d *Dispatcher) onDoorOpened(topic string, payload []byte) {
	clientID := clientIDFromTopic(topic)
	if clientID == "" {
		d.logger.Warn("malformed topic", "topic", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	resolved, err := d.orchestrator.HandleDoorOpened(ctx, clientID)
	if err != nil {
		d.logger.Error("door event failed", "client_id", clientID, "error", err)
		return
	}
	if resolved != nil {
		d.logger.Info("visit answered by door", "client_id", clientID, "visit_id", resolved.ID)
	}
}

func (d *Dispatcher) onTeacherSelected(topic string, payload []byte) {
	clientID := clientIDFromTopic(topic)
	if clientID == "" {
		d.logger.Warn("malformed topic", "topic", topic)
		return
	}

	var event teacherSelectedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		d.logger.Warn("malformed selection payload", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := d.orchestrator.HandleTeacherSelected(ctx, clientID, event.TeacherID); err != nil {
		d.logger.Error("teacher selection failed",
			"client_id", clientID, "teacher_id", event.TeacherID, "error", err)
	}
}

func (d *Dispatcher) onHeartbeat(topic string, payload []byte) {
	clientID := clientIDFromTopic(topic)
	if clientID == "" {
		d.logger.Warn("malformed topic", "topic", topic)
		return
	}

	var event heartbeatEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		d.logger.Warn("malformed heartbeat payload", "topic", topic, "error", err)
		return
	}

	kind, err := ParseKind(event.Kind)
	if err != nil {
		d.logger.Warn("heartbeat with unknown kind", "client_id", clientID, "kind", event.Kind)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := d.orchestrator.HandleHeartbeat(ctx, kind, clientID); err != nil {
		d.logger.Error("heartbeat failed", "client_id", clientID, "error", err)
	}
}
