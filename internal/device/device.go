// Package device turns raw device actions into domain operations: a button
// press becomes a visit plus a notification fan-out, a door sensor resolves a
// pending visit, a panel selection drives a schedule push. Handlers validate
// against registered devices and answer from durable state before any
// notification work starts.
package device

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/klahtinen/deskbell-go/internal/calendar"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/errors"
	"github.com/klahtinen/deskbell-go/internal/logging"
	"github.com/klahtinen/deskbell-go/internal/notify"
	"github.com/klahtinen/deskbell-go/internal/presence"
	"github.com/klahtinen/deskbell-go/internal/visit"
	"github.com/klahtinen/deskbell-go/internal/workers"
)

// Kind identifies the class of a registered device.
type Kind string

const (
	KindDoorbell Kind = "doorbell"
	KindBuzzer   Kind = "buzzer"
	KindPanel    Kind = "panel"
)

// ParseKind validates a device kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDoorbell, KindBuzzer, KindPanel:
		return Kind(s), nil
	default:
		return "", errors.ValidationError("unknown device kind: " + s)
	}
}

// Orchestrator coordinates device-originated actions across the visit,
// presence and notification services.
type Orchestrator struct {
	ds       datastore.Interface
	visits   *visit.Service
	resolver *presence.Resolver
	notifier *notify.Service
	cal      *calendar.Service
	tasks    *workers.Group
	logger   *slog.Logger
}

// NewOrchestrator creates the device action orchestrator.
func NewOrchestrator(ds datastore.Interface, visits *visit.Service, resolver *presence.Resolver, notifier *notify.Service, cal *calendar.Service) *Orchestrator {
	logger := logging.ForService("device")
	if logger == nil {
		logger = slog.Default().With("service", "device")
	}
	return &Orchestrator{
		ds:       ds,
		visits:   visits,
		resolver: resolver,
		notifier: notifier,
		cal:      cal,
		tasks:    workers.NewGroup(logger),
		logger:   logger,
	}
}

// Wait blocks until all detached notification tasks have finished. Intended
// for shutdown and tests.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

// HandleButtonPressed records a ring from the identified doorbell and kicks
// off notification fan-out. The visit is durable before this returns; the
// fan-out runs detached so the device gets its answer without waiting on
// buzzers or webhooks.
//
// A target teacher that does not exist degrades the ring to an untargeted one
// rather than failing it: the visitor already pressed the button.
func (o *Orchestrator) HandleButtonPressed(ctx context.Context, deviceID string, targetTeacherID *uint) (datastore.Visit, error) {
	doorbell, err := o.ds.GetDoorbellByDeviceID(deviceID)
	if err != nil {
		return datastore.Visit{}, err
	}

	if targetTeacherID != nil {
		if _, err := o.ds.GetTeacher(*targetTeacherID); err != nil {
			if !errors.IsNotFound(err) {
				return datastore.Visit{}, err
			}
			o.logger.Warn("target teacher not found, ringing untargeted",
				"device_id", deviceID, "teacher_id", *targetTeacherID)
			targetTeacherID = nil
		}
	}

	created, err := o.visits.Create(doorbell.ID, doorbell.LocationID, targetTeacherID)
	if err != nil {
		return datastore.Visit{}, err
	}

	o.tasks.Go("ring-fanout", func() error {
		return o.fanOutRing(context.Background(), &created)
	})

	return created, nil
}

// fanOutRing resolves who is present at the visit's location and notifies
// them. A targeted visit narrows the recipients to the target, and only if
// the target is present.
func (o *Orchestrator) fanOutRing(ctx context.Context, v *datastore.Visit) error {
	present, err := o.resolver.PresentTeacherRecords(v.LocationID, time.Now())
	if err != nil {
		return errors.New(err).
			Component("device").
			Category(errors.CategoryDatabase).
			Context("visit_id", v.ID).
			Build()
	}

	if v.TargetTeacherID != nil {
		narrowed := present[:0]
		for i := range present {
			if present[i].ID == *v.TargetTeacherID {
				narrowed = append(narrowed, present[i])
				break
			}
		}
		present = narrowed
	}

	results := o.notifier.NotifyTeachersOfRing(ctx, v, present)
	o.logger.Info("ring fan-out complete",
		"visit_id", v.ID, "present", len(present), "notified", len(results))
	return nil
}

// HandleDoorOpened correlates a door sensor event with the doorbell's last
// pending visit inside the pending window. No pending visit means the event
// stands alone and is dropped without error; the returned visit is nil.
func (o *Orchestrator) HandleDoorOpened(ctx context.Context, deviceID string) (*datastore.Visit, error) {
	doorbell, err := o.ds.GetDoorbellByDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	pending, err := o.visits.LastPending(doorbell.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if pending == nil {
		o.logger.Debug("door opened with no pending visit", "device_id", deviceID)
		return nil, nil
	}

	updated, err := o.visits.MarkDoorOpened(pending.ID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// HandleTeacherSelected stores a panel's teacher selection and pushes the
// teacher's week schedule back to it.
func (o *Orchestrator) HandleTeacherSelected(ctx context.Context, deviceID string, teacherID uint) error {
	panel, err := o.ds.GetPanelByDeviceID(deviceID)
	if err != nil {
		return err
	}

	teacher, err := o.ds.GetTeacher(teacherID)
	if err != nil {
		return err
	}

	if err := o.ds.SetPanelSelectedTeacher(panel.ID, teacher.ID); err != nil {
		return err
	}

	grid, err := o.cal.WeekSchedule(teacher.CalendarEmail, calendar.WeekStart(time.Now()))
	if err != nil {
		o.logger.Warn("week schedule unavailable, pushing empty grid",
			"teacher_id", teacher.ID, "error", err)
	}

	update := &notify.DisplayUpdate{
		TeacherID:    teacher.ID,
		TeacherName:  teacher.Username,
		WeekSchedule: grid,
	}
	if err := o.notifier.PushDisplayUpdate(ctx, &panel, update); err != nil {
		return err
	}
	return nil
}

// HandleHeartbeat marks a device online and stamps its last-seen time. A
// heartbeat from an unregistered device is logged and swallowed; devices
// retry heartbeats forever and an error reply would just generate noise.
//
// A panel heartbeat additionally pushes the current roster, so a panel that
// rebooted or lost the bus catches up without waiting for the next sweep.
func (o *Orchestrator) HandleHeartbeat(ctx context.Context, kind Kind, deviceID string) error {
	now := time.Now()

	var err error
	switch kind {
	case KindDoorbell:
		err = o.ds.TouchDoorbell(deviceID, now)
	case KindBuzzer:
		err = o.ds.TouchBuzzer(deviceID, now)
	case KindPanel:
		err = o.ds.TouchPanel(deviceID, now)
	default:
		return errors.ValidationError("unknown device kind: " + string(kind))
	}

	if err != nil {
		if errors.IsNotFound(err) {
			o.logger.Warn("heartbeat from unregistered device",
				"kind", kind, "device_id", deviceID)
			return nil
		}
		return err
	}

	if kind == KindPanel {
		panel, err := o.ds.GetPanelByDeviceID(deviceID)
		if err != nil {
			return err
		}
		o.tasks.Go("panel-refresh", func() error {
			return o.RefreshPanel(context.Background(), &panel, now)
		})
	}
	return nil
}

// RefreshPanel pushes the location roster with current presence flags to a
// panel. Used after presence transitions and on panel reconnect.
func (o *Orchestrator) RefreshPanel(ctx context.Context, panel *datastore.LEDPanel, now time.Time) error {
	resolutions, err := o.resolver.TeachersInLocation(panel.LocationID, now)
	if err != nil {
		return err
	}

	list := &notify.TeachersList{
		LocationID: panel.LocationID,
		Teachers:   make([]notify.TeacherEntry, 0, len(resolutions)),
	}
	for _, res := range resolutions {
		list.Teachers = append(list.Teachers, notify.TeacherEntry{
			TeacherID: res.TeacherID,
			Name:      res.Username,
			IsPresent: res.IsPresent,
		})
	}
	return o.notifier.PushTeachersList(ctx, panel, list)
}

// clientIDFromTopic extracts the second segment of a bus topic
// (namespace/clientID/action).
func clientIDFromTopic(topic string) string {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
