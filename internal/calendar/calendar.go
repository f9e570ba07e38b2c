// Package calendar maintains a synchronized cache of external calendar
// events per location and answers busy-window queries against it. The cache
// is never authoritative beyond the synced time window.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/errors"
	"github.com/klahtinen/deskbell-go/internal/logging"
)

const (
	// busySetTTL is how long a location's active-email set is served from
	// cache. Keeps one ring's batch resolution to a single query without
	// letting panels go stale for long.
	busySetTTL = 15 * time.Second

	// maxEventsPerSync caps one sync page walk per calendar.
	maxEventsPerSync = 2500
)

// Service syncs external calendars into the schedule cache and serves
// busy-window queries. Implements presence.BusySet.
type Service struct {
	ds       datastore.Interface
	settings *conf.Settings
	gcal     *gcal.Service // nil when calendar sync is disabled
	busy     *gocache.Cache
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the calendar service. When sync is disabled in settings the
// service still serves queries against whatever is in the cache.
func New(ctx context.Context, settings *conf.Settings, ds datastore.Interface) (*Service, error) {
	logger := logging.ForService("calendar")
	if logger == nil {
		logger = slog.Default().With("service", "calendar")
	}

	service := &Service{
		ds:       ds,
		settings: settings,
		busy:     gocache.New(busySetTTL, 2*busySetTTL),
		logger:   logger,
	}

	if settings.Calendar.Enabled {
		client, err := gcal.NewService(ctx,
			option.WithCredentialsFile(settings.Calendar.CredentialsFile),
			option.WithScopes(gcal.CalendarReadonlyScope))
		if err != nil {
			return nil, errors.New(fmt.Errorf("creating calendar client: %w", err)).
				Component("calendar").
				Category(errors.CategoryCalendarSync).
				Build()
		}
		service.gcal = client
	}

	return service, nil
}

// Start launches the periodic sync loop. No-op when sync is disabled.
func (s *Service) Start(ctx context.Context) {
	if s.gcal == nil {
		s.logger.Info("calendar sync disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	interval := time.Duration(s.settings.Calendar.SyncMinutes) * time.Minute

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Initial sync before the first tick
		if err := s.SyncAll(ctx); err != nil {
			s.logger.Error("initial calendar sync failed", "error", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SyncAll(ctx); err != nil {
					s.logger.Error("calendar sync failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("calendar sync started", "interval", interval)
}

// Stop terminates the sync loop and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// SyncAll refreshes the schedule cache for every location with a calendar
// configured. A failure for one location does not abort the others.
func (s *Service) SyncAll(ctx context.Context) error {
	if s.gcal == nil {
		return nil
	}

	locations, err := s.ds.GetAllLocations()
	if err != nil {
		return err
	}

	var errs []error
	for i := range locations {
		if locations[i].CalendarID == "" {
			continue
		}
		if err := s.syncLocation(ctx, &locations[i]); err != nil {
			s.logger.Error("location sync failed",
				"location_id", locations[i].ID,
				"error", err)
			errs = append(errs, err)
		}
	}

	// Prune entries that fell out of the sync window
	cutoff := time.Now().AddDate(0, 0, -s.settings.Calendar.PastDays)
	if err := s.ds.DeleteSchedulesBefore(cutoff); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// syncLocation pulls the configured window of events for one location and
// upserts them keyed by external event id.
func (s *Service) syncLocation(ctx context.Context, location *datastore.Location) error {
	now := time.Now()
	timeMin := now.AddDate(0, 0, -s.settings.Calendar.PastDays)
	timeMax := now.AddDate(0, 0, s.settings.Calendar.FutureDays)

	call := s.gcal.Events.List(location.CalendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxEventsPerSync).
		Context(ctx)

	count := 0
	err := call.Pages(ctx, func(events *gcal.Events) error {
		for _, event := range events.Items {
			schedule, ok := s.toSchedule(event, location)
			if !ok {
				continue
			}
			if err := s.ds.UpsertSchedule(schedule); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return errors.New(fmt.Errorf("listing events for calendar %s: %w", location.CalendarID, err)).
			Component("calendar").
			Category(errors.CategoryCalendarSync).
			Build()
	}

	s.logger.Debug("location synced", "location_id", location.ID, "events", count)
	return nil
}

// toSchedule converts one calendar event into a cache row. Events without a
// resolvable time window are skipped.
func (s *Service) toSchedule(event *gcal.Event, location *datastore.Location) (*datastore.Schedule, bool) {
	if event.Id == "" || event.Status == "cancelled" {
		return nil, false
	}

	start, end, allDay, ok := eventWindow(event)
	if !ok {
		return nil, false
	}

	return &datastore.Schedule{
		CalendarID:      location.CalendarID,
		LocationID:      location.ID,
		ExternalEventID: event.Id,
		TeacherEmail:    attributeEmail(event),
		StartTime:       start,
		EndTime:         end,
		AllDay:          allDay,
	}, true
}

// eventWindow extracts the busy window from an event, handling all-day
// events which carry only a date.
func eventWindow(event *gcal.Event) (start, end time.Time, allDay, ok bool) {
	if event.Start == nil || event.End == nil {
		return time.Time{}, time.Time{}, false, false
	}

	if event.Start.DateTime != "" && event.End.DateTime != "" {
		startTime, err1 := time.Parse(time.RFC3339, event.Start.DateTime)
		endTime, err2 := time.Parse(time.RFC3339, event.End.DateTime)
		if err1 != nil || err2 != nil {
			return time.Time{}, time.Time{}, false, false
		}
		return startTime, endTime, false, true
	}

	if event.Start.Date != "" && event.End.Date != "" {
		startTime, err1 := time.Parse("2006-01-02", event.Start.Date)
		endTime, err2 := time.Parse("2006-01-02", event.End.Date)
		if err1 != nil || err2 != nil {
			return time.Time{}, time.Time{}, false, false
		}
		return startTime, endTime, true, true
	}

	return time.Time{}, time.Time{}, false, false
}

// attributeEmail picks the teacher email an event belongs to: organizer
// first, then creator, then the first attendee.
func attributeEmail(event *gcal.Event) string {
	if event.Organizer != nil && event.Organizer.Email != "" {
		return event.Organizer.Email
	}
	if event.Creator != nil && event.Creator.Email != "" {
		return event.Creator.Email
	}
	for _, attendee := range event.Attendees {
		if attendee.Email != "" {
			return attendee.Email
		}
	}
	return ""
}

// ActiveTeacherEmails returns the set of teacher emails with an active busy
// window at the location. Served from a short-TTL cache so one batch
// resolution issues a single query.
func (s *Service) ActiveTeacherEmails(locationID uint, now time.Time) (map[string]struct{}, error) {
	cacheKey := fmt.Sprintf("busy:%d", locationID)
	if cached, found := s.busy.Get(cacheKey); found {
		return cached.(map[string]struct{}), nil
	}

	emails, err := s.ds.ActiveTeacherEmails(locationID, now)
	if err != nil {
		return nil, err
	}

	busySet := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		busySet[email] = struct{}{}
	}

	s.busy.Set(cacheKey, busySet, gocache.DefaultExpiration)
	return busySet, nil
}

// Invalidate drops the cached busy set for a location, forcing the next
// query to hit the datastore.
func (s *Service) Invalidate(locationID uint) {
	s.busy.Delete(fmt.Sprintf("busy:%d", locationID))
}
