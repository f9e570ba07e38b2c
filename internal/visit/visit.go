// Package visit drives one doorbell ring through its lifecycle:
// pending is the only initial state, answered and missed are terminal.
// All transitions are conditional updates guarded by the pending state, so a
// racing answer and auto-miss sweep cannot overwrite each other.
package visit

import (
	"context"
	"log/slog"
	"time"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/logging"
)

// MissedNotifier pushes a best-effort "visit missed" notice to the
// originating doorbell. Failures are the notifier's to log; they never block
// a transition.
type MissedNotifier interface {
	NotifyVisitMissed(ctx context.Context, visit *datastore.Visit)
}

// Service owns visit state transitions and the auto-miss timer policy.
type Service struct {
	ds       datastore.Interface
	settings *conf.Settings
	notifier MissedNotifier
	logger   *slog.Logger
}

// NewService creates the visit service.
func NewService(ds datastore.Interface, settings *conf.Settings) *Service {
	logger := logging.ForService("visit")
	if logger == nil {
		logger = slog.Default().With("service", "visit")
	}
	return &Service{ds: ds, settings: settings, logger: logger}
}

// SetMissedNotifier wires the outbound missed-notice channel. Set after
// construction to break the visit/notify dependency loop.
func (s *Service) SetMissedNotifier(notifier MissedNotifier) {
	s.notifier = notifier
}

// Create inserts a new pending visit. The auto-miss deadline is fixed at
// creation from the configured timeout.
func (s *Service) Create(doorbellID, locationID uint, targetTeacherID *uint) (datastore.Visit, error) {
	now := time.Now()
	visit := datastore.Visit{
		DoorbellID:      doorbellID,
		LocationID:      locationID,
		TargetTeacherID: targetTeacherID,
		Status:          datastore.VisitPending,
		CreatedAt:       now,
		AutoMissAt:      now.Add(s.settings.VisitTimeout()),
	}
	if err := s.ds.CreateVisit(&visit); err != nil {
		return datastore.Visit{}, err
	}

	s.logger.Info("visit created",
		"visit_id", visit.ID,
		"doorbell_id", doorbellID,
		"auto_miss_at", visit.AutoMissAt)
	return visit, nil
}

// Answer transitions a pending visit to answered on explicit staff
// acknowledgement. Fails with an invalid-state error when the visit is
// already resolved.
func (s *Service) Answer(id, answeredByID uint) (datastore.Visit, error) {
	visit, err := s.ds.AnswerVisit(id, answeredByID, time.Now())
	if err != nil {
		return visit, err
	}

	s.logger.Info("visit answered", "visit_id", id, "answered_by", answeredByID)
	return visit, nil
}

// MarkDoorOpened records the door-open sensor event. The sensor is ground
// truth for an answer, so a pending visit transitions to answered without a
// staff acknowledgement; a visit already missed keeps its terminal status
// and only the door fields are recorded.
func (s *Service) MarkDoorOpened(id uint) (datastore.Visit, error) {
	visit, err := s.ds.MarkVisitDoorOpened(id, time.Now())
	if err != nil {
		return visit, err
	}

	s.logger.Info("door opened for visit", "visit_id", id, "status", visit.Status)
	return visit, nil
}

// MarkAsMissed transitions a pending visit to missed and fires the missed
// notice. A visit already resolved is a no-op.
func (s *Service) MarkAsMissed(ctx context.Context, id uint) (datastore.Visit, error) {
	transitioned, err := s.ds.MarkVisitMissed(id)
	if err != nil {
		return datastore.Visit{}, err
	}

	visit, err := s.ds.GetVisit(id)
	if err != nil {
		return datastore.Visit{}, err
	}

	if transitioned {
		s.logger.Info("visit missed", "visit_id", id)
		s.notifyMissed(ctx, &visit)
	}
	return visit, nil
}

// AutoMissExpired transitions every pending visit past its deadline to
// missed in one batch, then fires the missed notice for each individually.
// Notice failures are logged by the notifier and do not block siblings.
// Returns the number of visits transitioned.
func (s *Service) AutoMissExpired(ctx context.Context, now time.Time) (int, error) {
	missed, err := s.ds.AutoMissExpiredVisits(now)
	if err != nil {
		return 0, err
	}

	for i := range missed {
		s.logger.Info("visit auto-missed",
			"visit_id", missed[i].ID,
			"auto_miss_at", missed[i].AutoMissAt)
		s.notifyMissed(ctx, &missed[i])
	}

	return len(missed), nil
}

// LastPending returns the most recent pending visit for a doorbell created
// within the correlation window, or nil when there is none.
func (s *Service) LastPending(doorbellID uint, now time.Time) (*datastore.Visit, error) {
	since := now.Add(-s.settings.PendingWindow())
	return s.ds.GetLastPendingVisit(doorbellID, since)
}

func (s *Service) notifyMissed(ctx context.Context, visit *datastore.Visit) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyVisitMissed(ctx, visit)
}
