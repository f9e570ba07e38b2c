// Package notify fans one physical event out across the bell, buzzer and
// chat channels, and keeps display panels fed with presence updates.
// Channel failures are isolated: a failed buzzer or webhook attempt is
// logged and omitted from the result, never propagated.
package notify

import (
	"time"

	"github.com/klahtinen/deskbell-go/internal/calendar"
)

// Notification channels recorded per teacher per ring.
const (
	ChannelDoorbell = "doorbell"
	ChannelBuzzer   = "buzzer"
	ChannelTeams    = "teams"
)

// Outbound bus actions (third topic segment).
const (
	ActionBellActivate    = "bell/activate"
	ActionBuzzActivate    = "buzz/activate"
	ActionDisplayUpdate   = "display/update"
	ActionTeachersList    = "teachers/list"
	ActionPresenceChanged = "presence/changed"
	ActionVisitMissed     = "visit/missed"
)

// Result is the per-teacher outcome of one ring fan-out. Channels holds only
// the channels that succeeded.
type Result struct {
	TeacherID  uint      `json:"teacherId"`
	Channels   []string  `json:"channels"`
	NotifiedAt time.Time `json:"notifiedAt"`
}

// BellCommand activates the physical bell on a doorbell. EventID lets
// devices deduplicate at-least-once deliveries.
type BellCommand struct {
	EventID  string `json:"eventId"`
	Duration int    `json:"duration"` // milliseconds
}

// BuzzCommand activates a teacher's personal buzzer.
type BuzzCommand struct {
	EventID  string `json:"eventId"`
	Duration int    `json:"duration"` // milliseconds
}

// VisitMissedNotice tells the originating doorbell its ring went unanswered.
type VisitMissedNotice struct {
	EventID string `json:"eventId"`
	VisitID uint   `json:"visitId"`
}

// DisplayUpdate pushes a teacher's week schedule to a panel.
type DisplayUpdate struct {
	TeacherID    uint              `json:"teacherId"`
	TeacherName  string            `json:"teacherName"`
	WeekSchedule calendar.WeekGrid `json:"weekSchedule"`
}

// PresenceChanged announces a presence transition to panels. Panels filter
// and display as needed.
type PresenceChanged struct {
	TeacherID   uint       `json:"teacherId"`
	TeacherName string     `json:"teacherName"`
	Status      string     `json:"status"`
	Until       *time.Time `json:"until,omitempty"`
	Source      string     `json:"source"`
}

// TeacherEntry is one row of a panel roster push.
type TeacherEntry struct {
	TeacherID uint   `json:"teacherId"`
	Name      string `json:"name"`
	IsPresent bool   `json:"isPresent"`
}

// TeachersList pushes the location roster with presence flags to a panel.
type TeachersList struct {
	LocationID uint           `json:"locationId"`
	Teachers   []TeacherEntry `json:"teachers"`
}
