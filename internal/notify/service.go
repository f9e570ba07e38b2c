package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/logging"
	"github.com/klahtinen/deskbell-go/internal/mqtt"
)

// Service dispatches outbound device commands and webhook posts.
type Service struct {
	ds       datastore.Interface
	bus      mqtt.Client
	settings *conf.Settings
	teams    *TeamsPoster
	logger   *slog.Logger
}

// NewService creates the notification service.
func NewService(ds datastore.Interface, bus mqtt.Client, settings *conf.Settings) *Service {
	logger := logging.ForService("notify")
	if logger == nil {
		logger = slog.Default().With("service", "notify")
	}
	return &Service{
		ds:       ds,
		bus:      bus,
		settings: settings,
		teams:    NewTeamsPoster(),
		logger:   logger,
	}
}

// NotifyTeachersOfRing runs the full fan-out for one ring: the physical bell
// first, then per-teacher buzzer and chat attempts. Per-teacher attempts run
// concurrently and independently; a failure on one channel is logged and
// omitted from that teacher's channel list. Never returns an error for
// partial failures.
func (s *Service) NotifyTeachersOfRing(ctx context.Context, visit *datastore.Visit, teachers []datastore.Teacher) []Result {
	doorbell, err := s.ds.GetDoorbell(visit.DoorbellID)
	if err != nil {
		s.logger.Error("fan-out: doorbell lookup failed",
			"visit_id", visit.ID, "doorbell_id", visit.DoorbellID, "error", err)
		return nil
	}

	var location datastore.Location
	if visit.LocationID != 0 {
		if location, err = s.ds.GetLocation(visit.LocationID); err != nil {
			s.logger.Warn("fan-out: location lookup failed, chat channel disabled",
				"visit_id", visit.ID, "location_id", visit.LocationID, "error", err)
		}
	}

	// The bell rings before any per-teacher attempt, once, regardless of the
	// teacher list.
	s.activateBell(ctx, &doorbell)

	results := make([]Result, len(teachers))
	var wg sync.WaitGroup
	for i := range teachers {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = s.notifyTeacher(ctx, &teachers[idx], &location)
		}(i)
	}
	wg.Wait()

	s.logger.Info("ring fan-out completed",
		"visit_id", visit.ID,
		"teachers", len(teachers))
	return results
}

// notifyTeacher attempts the buzzer and chat channels for one teacher. The
// doorbell channel is recorded unconditionally: the physical bell already
// rang for everyone at the location.
func (s *Service) notifyTeacher(ctx context.Context, teacher *datastore.Teacher, location *datastore.Location) Result {
	result := Result{
		TeacherID:  teacher.ID,
		Channels:   []string{ChannelDoorbell},
		NotifiedAt: time.Now(),
	}

	if teacher.BuzzerEnabled {
		if s.activateBuzzer(ctx, teacher) {
			result.Channels = append(result.Channels, ChannelBuzzer)
		}
	}

	if teacher.NotifyOnTeams && teacher.TeamsUserID != "" && location.TeamsWebhookURL != "" {
		card := RingCard(location.Name, teacher.Username, result.NotifiedAt)
		if err := s.teams.Post(ctx, location.TeamsWebhookURL, card); err != nil {
			s.logger.Error("teams post failed",
				"teacher_id", teacher.ID, "error", err)
		} else {
			result.Channels = append(result.Channels, ChannelTeams)
		}
	}

	return result
}

// activateBell rings the physical bell on the originating doorbell.
func (s *Service) activateBell(ctx context.Context, doorbell *datastore.Doorbell) {
	command := BellCommand{
		EventID:  uuid.NewString(),
		Duration: s.settings.Visit.BellDurationMs,
	}
	if err := s.publish(ctx, doorbell.ClientID, ActionBellActivate, command); err != nil {
		s.logger.Error("bell activation failed",
			"doorbell_id", doorbell.ID, "error", err)
	}
}

// activateBuzzer sends an activate command to the teacher's buzzer if one
// exists and is online. Returns true only on a successful publish.
func (s *Service) activateBuzzer(ctx context.Context, teacher *datastore.Teacher) bool {
	buzzer, err := s.ds.GetBuzzerForTeacher(teacher.ID)
	if err != nil {
		s.logger.Debug("no buzzer for teacher", "teacher_id", teacher.ID)
		return false
	}
	if !s.deviceOnline(buzzer.IsOnline, buzzer.LastSeen) {
		s.logger.Debug("buzzer offline, skipping",
			"teacher_id", teacher.ID, "buzzer_id", buzzer.ID)
		return false
	}

	command := BuzzCommand{
		EventID:  uuid.NewString(),
		Duration: s.settings.Visit.BuzzDurationMs,
	}
	if err := s.publish(ctx, buzzer.ClientID, ActionBuzzActivate, command); err != nil {
		s.logger.Error("buzzer activation failed",
			"teacher_id", teacher.ID, "buzzer_id", buzzer.ID, "error", err)
		return false
	}
	return true
}

// NotifyVisitMissed pushes a best-effort missed notice to the originating
// doorbell. Implements visit.MissedNotifier.
func (s *Service) NotifyVisitMissed(ctx context.Context, visit *datastore.Visit) {
	doorbell, err := s.ds.GetDoorbell(visit.DoorbellID)
	if err != nil {
		s.logger.Error("missed notice: doorbell lookup failed",
			"visit_id", visit.ID, "error", err)
		return
	}

	notice := VisitMissedNotice{
		EventID: uuid.NewString(),
		VisitID: visit.ID,
	}
	if err := s.publish(ctx, doorbell.ClientID, ActionVisitMissed, notice); err != nil {
		s.logger.Error("missed notice publish failed",
			"visit_id", visit.ID, "error", err)
	}
}

// BroadcastPresenceChange pushes a presence-changed message to every
// currently-online panel, independent of location. Per-panel failures are
// isolated and logged.
func (s *Service) BroadcastPresenceChange(ctx context.Context, event *PresenceChanged) {
	panels, err := s.ds.GetOnlinePanels()
	if err != nil {
		s.logger.Error("presence broadcast: listing panels failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for i := range panels {
		if !s.deviceOnline(panels[i].IsOnline, panels[i].LastSeen) {
			continue
		}
		wg.Add(1)
		go func(panel *datastore.LEDPanel) {
			defer wg.Done()
			if err := s.publish(ctx, panel.ClientID, ActionPresenceChanged, event); err != nil {
				s.logger.Error("presence broadcast failed for panel",
					"panel_id", panel.ID, "error", err)
			}
		}(&panels[i])
	}
	wg.Wait()

	s.logger.Debug("presence change broadcast",
		"teacher_id", event.TeacherID, "panels", len(panels))
}

// PushDisplayUpdate sends a teacher's week schedule to one panel.
func (s *Service) PushDisplayUpdate(ctx context.Context, panel *datastore.LEDPanel, update *DisplayUpdate) error {
	return s.publish(ctx, panel.ClientID, ActionDisplayUpdate, update)
}

// PushTeachersList sends the location roster with presence flags to one
// panel.
func (s *Service) PushTeachersList(ctx context.Context, panel *datastore.LEDPanel, list *TeachersList) error {
	return s.publish(ctx, panel.ClientID, ActionTeachersList, list)
}

// publish marshals the payload and sends it on the device's topic.
func (s *Service) publish(ctx context.Context, clientID, action string, payload any) error {
	if s.bus == nil {
		return fmt.Errorf("message bus not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", action, err)
	}

	topic := mqtt.Topic(s.settings.MQTT.Namespace, clientID, action)
	return s.bus.Publish(ctx, topic, string(body))
}

// deviceOnline applies the liveness decay policy: a device counts as online
// only while its last heartbeat is fresh enough.
func (s *Service) deviceOnline(isOnline bool, lastSeen *time.Time) bool {
	if !isOnline || lastSeen == nil {
		return false
	}
	maxAge := time.Duration(s.settings.Devices.OfflineAfterMinutes) * time.Minute
	return time.Since(*lastSeen) <= maxAge
}
