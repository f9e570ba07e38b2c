// Package presence computes a teacher's live presence from two competing
// sources: a time-bounded manual override and calendar-derived busy windows.
// Manual wins; an expired override is ignored without being deleted.
package presence

import (
	"log/slog"
	"time"

	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/logging"
)

// Source identifies which input produced a presence answer.
type Source string

const (
	SourceManual      Source = "manual"
	SourceCalendar    Source = "calendar"
	SourceUnavailable Source = "unavailable"
)

// Resolution is the presence answer for one teacher at one instant.
type Resolution struct {
	TeacherID   uint                    `json:"teacherId"`
	Username    string                  `json:"username"`
	IsPresent   bool                    `json:"isPresent"`
	Source      Source                  `json:"source"`
	Manual      *datastore.ManualStatus `json:"manualStatus,omitempty"`
}

// BusySet answers "which teacher emails have an active calendar window right
// now" for a location. Implemented by the calendar service.
type BusySet interface {
	ActiveTeacherEmails(locationID uint, now time.Time) (map[string]struct{}, error)
}

// Resolver computes presence for teachers. It performs no writes.
type Resolver struct {
	ds     datastore.Interface
	busy   BusySet
	logger *slog.Logger
}

// NewResolver creates a presence resolver.
func NewResolver(ds datastore.Interface, busy BusySet) *Resolver {
	logger := logging.ForService("presence")
	if logger == nil {
		logger = slog.Default().With("service", "presence")
	}
	return &Resolver{ds: ds, busy: busy, logger: logger}
}

// Resolve computes presence for a single teacher given the location's busy
// email set. Precedence, first match wins:
//  1. active manual override
//  2. calendar identity with an active busy window
//  3. unavailable
//
// A teacher with neither source resolves to unavailable; that is not an error.
func Resolve(teacher *datastore.Teacher, busyEmails map[string]struct{}, now time.Time) Resolution {
	res := Resolution{
		TeacherID: teacher.ID,
		Username:  teacher.Username,
	}

	if manual := teacher.Manual(); manual.Active(now) {
		res.IsPresent = manual.Status == datastore.StatusPresent
		res.Source = SourceManual
		res.Manual = manual
		return res
	}

	if teacher.HasCalendarIdentity() {
		if _, busy := busyEmails[teacher.CalendarEmail]; busy {
			res.IsPresent = true
			res.Source = SourceCalendar
			return res
		}
	}

	res.Source = SourceUnavailable
	return res
}

// ResolveTeacher resolves a single teacher by id against a location's
// calendar window.
func (r *Resolver) ResolveTeacher(teacherID, locationID uint, now time.Time) (Resolution, error) {
	teacher, err := r.ds.GetTeacher(teacherID)
	if err != nil {
		return Resolution{}, err
	}

	return Resolve(&teacher, r.busySetFor(locationID, now), now), nil
}

// TeachersInLocation resolves presence for every teacher assigned to the
// location in one pass: a single busy-set query is shared across all
// teachers.
func (r *Resolver) TeachersInLocation(locationID uint, now time.Time) ([]Resolution, error) {
	teachers, err := r.ds.GetTeachersByLocation(locationID)
	if err != nil {
		return nil, err
	}

	busyEmails := r.busySetFor(locationID, now)

	resolutions := make([]Resolution, 0, len(teachers))
	for i := range teachers {
		resolutions = append(resolutions, Resolve(&teachers[i], busyEmails, now))
	}
	return resolutions, nil
}

// PresentTeachersInLocation filters the batch resolution to the present
// subset.
func (r *Resolver) PresentTeachersInLocation(locationID uint, now time.Time) ([]Resolution, error) {
	resolutions, err := r.TeachersInLocation(locationID, now)
	if err != nil {
		return nil, err
	}
	return OnlyPresent(resolutions), nil
}

// PresentTeacherRecords returns the full teacher records that currently
// resolve as present at the location. Notification fan-out needs the records
// rather than resolutions because channel preferences live on the teacher.
func (r *Resolver) PresentTeacherRecords(locationID uint, now time.Time) ([]datastore.Teacher, error) {
	teachers, err := r.ds.GetTeachersByLocation(locationID)
	if err != nil {
		return nil, err
	}

	busyEmails := r.busySetFor(locationID, now)

	present := make([]datastore.Teacher, 0, len(teachers))
	for i := range teachers {
		if Resolve(&teachers[i], busyEmails, now).IsPresent {
			present = append(present, teachers[i])
		}
	}
	return present, nil
}

// OnlyPresent filters resolutions to those marked present.
func OnlyPresent(resolutions []Resolution) []Resolution {
	present := make([]Resolution, 0, len(resolutions))
	for _, res := range resolutions {
		if res.IsPresent {
			present = append(present, res)
		}
	}
	return present
}

// busySetFor loads the active busy-email set. A missing or failing calendar
// source degrades to an empty set so manual overrides still resolve and a
// ring still reaches manually-present teachers.
func (r *Resolver) busySetFor(locationID uint, now time.Time) map[string]struct{} {
	if r.busy == nil {
		return map[string]struct{}{}
	}
	busyEmails, err := r.busy.ActiveTeacherEmails(locationID, now)
	if err != nil {
		r.logger.Warn("busy-set lookup failed, resolving without calendar",
			"location_id", locationID, "error", err)
		return map[string]struct{}{}
	}
	return busyEmails
}
