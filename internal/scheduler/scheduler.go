// Package scheduler runs the periodic sweeps: expiring unanswered visits to
// missed, and detecting presence transitions that happen by the clock alone
// (manual overrides lapsing, calendar windows opening or closing) so panels
// are not left showing stale state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klahtinen/deskbell-go/internal/calendar"
	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/device"
	"github.com/klahtinen/deskbell-go/internal/logging"
	"github.com/klahtinen/deskbell-go/internal/notify"
	"github.com/klahtinen/deskbell-go/internal/presence"
	"github.com/klahtinen/deskbell-go/internal/visit"
)

// Scheduler owns the sweep tickers. Each sweep skips a tick when the
// previous run has not finished, so a slow database never stacks sweeps.
type Scheduler struct {
	settings *conf.Settings
	ds       datastore.Interface
	visits   *visit.Service
	resolver *presence.Resolver
	notifier *notify.Service
	devices  *device.Orchestrator
	cal      *calendar.Service
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	autoMissRunning atomic.Bool
	presenceRunning atomic.Bool
	lastPresenceRun time.Time
}

// New creates the scheduler. Start must be called to begin sweeping.
func New(settings *conf.Settings, ds datastore.Interface, visits *visit.Service, resolver *presence.Resolver, notifier *notify.Service, devices *device.Orchestrator, cal *calendar.Service) *Scheduler {
	logger := logging.ForService("scheduler")
	if logger == nil {
		logger = slog.Default().With("service", "scheduler")
	}
	return &Scheduler{
		settings: settings,
		ds:       ds,
		visits:   visits,
		resolver: resolver,
		notifier: notifier,
		devices:  devices,
		cal:      cal,
		logger:   logger,
	}
}

// Start launches both sweep loops. They stop when ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.lastPresenceRun = time.Now()

	autoMissInterval := time.Duration(s.settings.Sweeps.AutoMissSeconds) * time.Second
	presenceInterval := time.Duration(s.settings.Sweeps.PresenceSeconds) * time.Second

	s.wg.Add(2)
	go s.loop(ctx, "auto-miss", autoMissInterval, s.sweepAutoMiss)
	go s.loop(ctx, "presence", presenceInterval, s.sweepPresence)

	s.logger.Info("sweeps started",
		"auto_miss_interval", autoMissInterval, "presence_interval", presenceInterval)
}

// Stop cancels the sweep loops and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sweeps stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// sweepAutoMiss expires pending visits whose deadline has passed. The
// datastore transition is the exactly-once guard; running a tick late only
// delays the miss, it never doubles it.
func (s *Scheduler) sweepAutoMiss(ctx context.Context) {
	if !s.autoMissRunning.CompareAndSwap(false, true) {
		s.logger.Warn("auto-miss sweep still running, skipping tick")
		return
	}
	defer s.autoMissRunning.Store(false)

	missed, err := s.visits.AutoMissExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("auto-miss sweep failed", "error", err)
		return
	}
	if missed > 0 {
		s.logger.Info("visits auto-missed", "count", missed)
	}
}

// sweepPresence finds presence transitions caused purely by time passing
// since the last run: manual overrides that lapsed and calendar windows that
// opened or closed. Affected locations get a panel roster refresh; lapsed
// overrides additionally get an explicit presence-changed broadcast.
func (s *Scheduler) sweepPresence(ctx context.Context) {
	if !s.presenceRunning.CompareAndSwap(false, true) {
		s.logger.Warn("presence sweep still running, skipping tick")
		return
	}
	defer s.presenceRunning.Store(false)

	now := time.Now()
	from := s.lastPresenceRun

	expired, err := s.ds.TeachersWithStatusExpiredBetween(from, now)
	if err != nil {
		s.logger.Error("presence sweep: expired-status query failed", "error", err)
		return
	}

	crossings, err := s.ds.SchedulesCrossingBetween(from, now)
	if err != nil {
		s.logger.Error("presence sweep: schedule-crossing query failed", "error", err)
		return
	}

	// Advance the watermark only once both queries succeeded; a failed tick
	// leaves the window intact so the next tick re-scans it.
	s.lastPresenceRun = now

	affected := make(map[uint]struct{})

	for i := range expired {
		s.broadcastLapsedOverride(ctx, &expired[i], now, affected)
	}

	for i := range crossings {
		if crossings[i].LocationID == 0 {
			continue
		}
		if _, seen := affected[crossings[i].LocationID]; !seen {
			s.cal.Invalidate(crossings[i].LocationID)
			affected[crossings[i].LocationID] = struct{}{}
		}
	}

	for locationID := range affected {
		s.refreshLocationPanels(ctx, locationID, now)
	}
}

// broadcastLapsedOverride announces the teacher's post-override presence and
// marks their locations for a panel refresh.
func (s *Scheduler) broadcastLapsedOverride(ctx context.Context, teacher *datastore.Teacher, now time.Time, affected map[uint]struct{}) {
	locations, err := s.ds.GetLocationsForTeacher(teacher.ID)
	if err != nil {
		s.logger.Error("presence sweep: locations lookup failed",
			"teacher_id", teacher.ID, "error", err)
		return
	}
	if len(locations) == 0 {
		return
	}
	for _, location := range locations {
		affected[location.ID] = struct{}{}
	}

	res, err := s.resolver.ResolveTeacher(teacher.ID, locations[0].ID, now)
	if err != nil {
		s.logger.Error("presence sweep: resolve failed",
			"teacher_id", teacher.ID, "error", err)
		return
	}

	status := datastore.StatusAbsent
	if res.IsPresent {
		status = datastore.StatusPresent
	}
	s.notifier.BroadcastPresenceChange(ctx, &notify.PresenceChanged{
		TeacherID:   teacher.ID,
		TeacherName: teacher.Username,
		Status:      string(status),
		Source:      string(res.Source),
	})
}

// refreshLocationPanels pushes a fresh roster to every online panel at the
// location. Per-panel failures are logged and do not stop the refresh.
func (s *Scheduler) refreshLocationPanels(ctx context.Context, locationID uint, now time.Time) {
	panels, err := s.ds.GetPanelsByLocation(locationID)
	if err != nil {
		s.logger.Error("presence sweep: panels lookup failed",
			"location_id", locationID, "error", err)
		return
	}
	for i := range panels {
		if !panels[i].IsOnline {
			continue
		}
		if err := s.devices.RefreshPanel(ctx, &panels[i], now); err != nil {
			s.logger.Error("panel refresh failed",
				"panel_id", panels[i].ID, "error", err)
		}
	}
}
