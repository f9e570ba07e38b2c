// model.go this code defines the data model for the application
package datastore

import "time"

// PresenceStatus is a manual presence override value set by a teacher.
type PresenceStatus string

const (
	StatusPresent PresenceStatus = "present"
	StatusAbsent  PresenceStatus = "absent"
	StatusDND     PresenceStatus = "dnd"
)

// Valid reports whether the status is one of the known override values.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusDND:
		return true
	}
	return false
}

// ManualStatus is the optional, time-bounded presence override of a teacher.
// A nil Until means the override is indefinite.
type ManualStatus struct {
	Status PresenceStatus `json:"status"`
	Until  *time.Time     `json:"until,omitempty"`
}

// Active reports whether the override applies at the given instant.
// An Until in the past means the override has lapsed and must be ignored.
func (m *ManualStatus) Active(now time.Time) bool {
	if m == nil {
		return false
	}
	return m.Until == nil || m.Until.After(now)
}

// Teacher represents a staff member that can be visited.
type Teacher struct {
	ID            uint   `gorm:"primaryKey"`
	Username      string `gorm:"uniqueIndex;size:64;not null"`
	Email         string `gorm:"size:255"`
	CalendarEmail string `gorm:"index;size:255"` // join key into calendar events, empty if none
	TeamsUserID   string `gorm:"size:255"`       // chat identity, empty if none

	// Notification preferences
	NotifyOnTeams bool
	BuzzerEnabled bool

	// Manual presence override, both columns null when no override is set
	ManualStatus      *PresenceStatus `gorm:"type:varchar(10)"`
	ManualStatusUntil *time.Time

	Locations []Location `gorm:"many2many:location_teachers"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Manual returns the teacher's manual status as an optional value,
// or nil when no override is set.
func (t *Teacher) Manual() *ManualStatus {
	if t.ManualStatus == nil {
		return nil
	}
	return &ManualStatus{Status: *t.ManualStatus, Until: t.ManualStatusUntil}
}

// HasCalendarIdentity reports whether the teacher can be matched against
// synced calendar events.
func (t *Teacher) HasCalendarIdentity() bool {
	return t.CalendarEmail != ""
}

// Location represents a physical site with doorbells and panels.
type Location struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:255;not null"`
	CalendarID      string `gorm:"size:255"` // external calendar id, empty if none
	TeamsWebhookURL string `gorm:"size:512"` // chat webhook, empty if none

	Teachers  []Teacher  `gorm:"many2many:location_teachers"`
	Doorbells []Doorbell `gorm:"foreignKey:LocationID"`
	Panels    []LEDPanel `gorm:"foreignKey:LocationID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule is one synchronized calendar event, a busy window for the teacher
// identified by email. Upserted keyed by ExternalEventID.
type Schedule struct {
	ID              uint   `gorm:"primaryKey"`
	CalendarID      string `gorm:"size:255"`
	LocationID      uint   `gorm:"index"`
	ExternalEventID string `gorm:"uniqueIndex;size:255;not null"`
	TeacherEmail    string `gorm:"index;size:255"`
	StartTime       time.Time `gorm:"index"`
	EndTime         time.Time `gorm:"index"`
	AllDay          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VisitStatus is the lifecycle state of a doorbell ring.
type VisitStatus string

const (
	VisitPending  VisitStatus = "pending"
	VisitAnswered VisitStatus = "answered"
	VisitMissed   VisitStatus = "missed"
)

// Valid reports whether the status is one of the known visit states.
func (s VisitStatus) Valid() bool {
	switch s {
	case VisitPending, VisitAnswered, VisitMissed:
		return true
	}
	return false
}

// Visit is one doorbell-ring instance. Status transitions are monotonic:
// pending is the only initial state, answered and missed are terminal.
type Visit struct {
	ID              uint        `gorm:"primaryKey"`
	DoorbellID      uint        `gorm:"index;not null"`
	LocationID      uint        `gorm:"index"`
	TargetTeacherID *uint       `gorm:"index"`
	Status          VisitStatus `gorm:"type:varchar(10);index;default:pending"`

	CreatedAt  time.Time `gorm:"index"`
	AutoMissAt time.Time `gorm:"index"` // fixed at creation: CreatedAt + visit timeout

	DoorOpened   bool
	DoorOpenedAt *time.Time

	AnsweredByID *uint
	AnsweredAt   *time.Time
}

// Resolved reports whether the visit has reached a terminal state.
func (v *Visit) Resolved() bool {
	return v.Status == VisitAnswered || v.Status == VisitMissed
}

// Message is a free-form note left by a visitor, optionally tied to a visit.
type Message struct {
	ID         uint  `gorm:"primaryKey"`
	VisitID    *uint `gorm:"index"`
	TeacherID  *uint `gorm:"index"`
	LocationID *uint `gorm:"index"`
	Body       string `gorm:"type:text;not null"`
	IsRead     bool   `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Doorbell is a physical ring-button device at a location.
type Doorbell struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceID   string `gorm:"uniqueIndex;size:64;not null"` // stable hardware id
	ClientID   string `gorm:"size:64"`                      // MQTT client id
	Name       string `gorm:"size:255"`
	LocationID uint   `gorm:"index"`

	IsOnline bool
	LastSeen *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Buzzer is a personal notification device, owned by exactly one teacher.
type Buzzer struct {
	ID        uint   `gorm:"primaryKey"`
	DeviceID  string `gorm:"uniqueIndex;size:64;not null"`
	ClientID  string `gorm:"size:64"`
	TeacherID uint   `gorm:"uniqueIndex;not null"` // a teacher has at most one buzzer

	IsOnline bool
	LastSeen *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LEDPanel is a display device showing teacher presence for a location.
type LEDPanel struct {
	ID         uint   `gorm:"primaryKey"`
	DeviceID   string `gorm:"uniqueIndex;size:64;not null"`
	ClientID   string `gorm:"size:64"`
	Name       string `gorm:"size:255"`
	LocationID uint   `gorm:"index"`

	SelectedTeacherID *uint // last teacher chosen on the physical selector

	IsOnline bool
	LastSeen *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
