// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// operations the services need.
type Interface interface {
	Open() error
	Close() error

	// Teachers
	GetTeacher(id uint) (Teacher, error)
	GetTeacherByUsername(username string) (Teacher, error)
	GetTeachersByLocation(locationID uint) ([]Teacher, error)
	GetLocationsForTeacher(teacherID uint) ([]Location, error)
	SetManualStatus(teacherID uint, expected, status *PresenceStatus, until *time.Time) error
	TeachersWithStatusExpiredBetween(from, to time.Time) ([]Teacher, error)

	// Locations
	GetLocation(id uint) (Location, error)
	GetAllLocations() ([]Location, error)

	// Doorbells
	GetDoorbell(id uint) (Doorbell, error)
	GetDoorbellByDeviceID(deviceID string) (Doorbell, error)
	CreateDoorbell(doorbell *Doorbell) error
	TouchDoorbell(deviceID string, now time.Time) error

	// Buzzers
	GetBuzzerForTeacher(teacherID uint) (Buzzer, error)
	GetBuzzerByDeviceID(deviceID string) (Buzzer, error)
	CreateBuzzer(buzzer *Buzzer) error
	TouchBuzzer(deviceID string, now time.Time) error

	// LED panels
	GetPanel(id uint) (LEDPanel, error)
	GetPanelByDeviceID(deviceID string) (LEDPanel, error)
	GetOnlinePanels() ([]LEDPanel, error)
	GetPanelsByLocation(locationID uint) ([]LEDPanel, error)
	SetPanelSelectedTeacher(panelID, teacherID uint) error
	TouchPanel(deviceID string, now time.Time) error

	// Visits
	CreateVisit(visit *Visit) error
	GetVisit(id uint) (Visit, error)
	GetVisitsByStatus(status VisitStatus, page, limit int) ([]Visit, error)
	GetLastPendingVisit(doorbellID uint, since time.Time) (*Visit, error)
	AnswerVisit(id, answeredByID uint, now time.Time) (Visit, error)
	MarkVisitDoorOpened(id uint, now time.Time) (Visit, error)
	MarkVisitMissed(id uint) (bool, error)
	AutoMissExpiredVisits(now time.Time) ([]Visit, error)

	// Calendar cache
	UpsertSchedule(schedule *Schedule) error
	DeleteSchedulesBefore(cutoff time.Time) error
	ActiveTeacherEmails(locationID uint, now time.Time) ([]string, error)
	SchedulesForTeacherBetween(email string, from, to time.Time) ([]Schedule, error)
	SchedulesCrossingBetween(from, to time.Time) ([]Schedule, error)

	// Messages
	CreateMessage(message *Message) error
	GetMessagesForTeacher(teacherID uint, page, limit int) ([]Message, error)
	MarkMessageRead(id uint) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// --- Teachers ---

// GetTeacher retrieves a teacher by id.
func (ds *DataStore) GetTeacher(id uint) (Teacher, error) {
	var teacher Teacher
	if err := ds.DB.First(&teacher, id).Error; err != nil {
		return Teacher{}, translateErr(err, "teacher", id)
	}
	return teacher, nil
}

// GetTeacherByUsername retrieves a teacher by username.
func (ds *DataStore) GetTeacherByUsername(username string) (Teacher, error) {
	var teacher Teacher
	if err := ds.DB.Where("username = ?", username).First(&teacher).Error; err != nil {
		return Teacher{}, translateErr(err, "teacher", username)
	}
	return teacher, nil
}

// GetTeachersByLocation retrieves all teachers assigned to a location.
func (ds *DataStore) GetTeachersByLocation(locationID uint) ([]Teacher, error) {
	var teachers []Teacher
	err := ds.DB.
		Joins("JOIN location_teachers ON location_teachers.teacher_id = teachers.id").
		Where("location_teachers.location_id = ?", locationID).
		Find(&teachers).Error
	if err != nil {
		return nil, dbErr(err, "listing teachers for location")
	}
	return teachers, nil
}

// GetLocationsForTeacher retrieves all locations a teacher is assigned to.
func (ds *DataStore) GetLocationsForTeacher(teacherID uint) ([]Location, error) {
	var locations []Location
	err := ds.DB.
		Joins("JOIN location_teachers ON location_teachers.location_id = locations.id").
		Where("location_teachers.teacher_id = ?", teacherID).
		Find(&locations).Error
	if err != nil {
		return nil, dbErr(err, "listing locations for teacher")
	}
	return locations, nil
}

// SetManualStatus updates a teacher's manual presence override. A non-nil
// expected makes the write compare-and-set: it only applies if the stored
// status still equals the expected one, otherwise a conflict is returned.
// Passing a nil status clears the override.
func (ds *DataStore) SetManualStatus(teacherID uint, expected, status *PresenceStatus, until *time.Time) error {
	tx := ds.DB.Model(&Teacher{}).Where("id = ?", teacherID)
	if expected != nil {
		tx = tx.Where("manual_status = ?", *expected)
	}

	res := tx.Select("ManualStatus", "ManualStatusUntil").Updates(Teacher{
		ManualStatus:      status,
		ManualStatusUntil: until,
	})
	if res.Error != nil {
		return dbErr(res.Error, "updating manual status")
	}
	if res.RowsAffected == 0 {
		var count int64
		ds.DB.Model(&Teacher{}).Where("id = ?", teacherID).Count(&count)
		if count == 0 {
			return errors.NotFoundError("teacher", teacherID)
		}
		return errors.ConflictError("manual status changed concurrently")
	}
	return nil
}

// TeachersWithStatusExpiredBetween returns teachers whose manual status
// expiry fell within the given window. Used by the presence sweep to detect
// recently lapsed overrides.
func (ds *DataStore) TeachersWithStatusExpiredBetween(from, to time.Time) ([]Teacher, error) {
	var teachers []Teacher
	err := ds.DB.
		Where("manual_status IS NOT NULL AND manual_status_until > ? AND manual_status_until <= ?", from, to).
		Find(&teachers).Error
	if err != nil {
		return nil, dbErr(err, "listing teachers with expired status")
	}
	return teachers, nil
}

// --- Locations ---

// GetLocation retrieves a location by id.
func (ds *DataStore) GetLocation(id uint) (Location, error) {
	var location Location
	if err := ds.DB.First(&location, id).Error; err != nil {
		return Location{}, translateErr(err, "location", id)
	}
	return location, nil
}

// GetAllLocations retrieves all locations.
func (ds *DataStore) GetAllLocations() ([]Location, error) {
	var locations []Location
	if err := ds.DB.Find(&locations).Error; err != nil {
		return nil, dbErr(err, "listing locations")
	}
	return locations, nil
}

// --- Doorbells ---

func (ds *DataStore) GetDoorbell(id uint) (Doorbell, error) {
	var doorbell Doorbell
	if err := ds.DB.First(&doorbell, id).Error; err != nil {
		return Doorbell{}, translateErr(err, "doorbell", id)
	}
	return doorbell, nil
}

// GetDoorbellByDeviceID matches either the stable device id or the
// transport-level client id, so bus and HTTP surfaces share one lookup.
func (ds *DataStore) GetDoorbellByDeviceID(deviceID string) (Doorbell, error) {
	var doorbell Doorbell
	if err := ds.DB.Where("device_id = ? OR client_id = ?", deviceID, deviceID).First(&doorbell).Error; err != nil {
		return Doorbell{}, translateErr(err, "doorbell", deviceID)
	}
	return doorbell, nil
}

func (ds *DataStore) CreateDoorbell(doorbell *Doorbell) error {
	var count int64
	ds.DB.Model(&Doorbell{}).Where("device_id = ?", doorbell.DeviceID).Count(&count)
	if count > 0 {
		return errors.ConflictError(fmt.Sprintf("doorbell with device id %s already exists", doorbell.DeviceID))
	}
	if err := ds.DB.Create(doorbell).Error; err != nil {
		return dbErr(err, "creating doorbell")
	}
	return nil
}

func (ds *DataStore) TouchDoorbell(deviceID string, now time.Time) error {
	return ds.touchDevice(&Doorbell{}, "doorbell", deviceID, now)
}

// --- Buzzers ---

func (ds *DataStore) GetBuzzerForTeacher(teacherID uint) (Buzzer, error) {
	var buzzer Buzzer
	if err := ds.DB.Where("teacher_id = ?", teacherID).First(&buzzer).Error; err != nil {
		return Buzzer{}, translateErr(err, "buzzer", teacherID)
	}
	return buzzer, nil
}

func (ds *DataStore) GetBuzzerByDeviceID(deviceID string) (Buzzer, error) {
	var buzzer Buzzer
	if err := ds.DB.Where("device_id = ? OR client_id = ?", deviceID, deviceID).First(&buzzer).Error; err != nil {
		return Buzzer{}, translateErr(err, "buzzer", deviceID)
	}
	return buzzer, nil
}

// CreateBuzzer inserts a buzzer, enforcing that a teacher holds at most one.
func (ds *DataStore) CreateBuzzer(buzzer *Buzzer) error {
	var count int64
	ds.DB.Model(&Buzzer{}).
		Where("device_id = ? OR teacher_id = ?", buzzer.DeviceID, buzzer.TeacherID).
		Count(&count)
	if count > 0 {
		return errors.ConflictError("buzzer already exists for this device or teacher")
	}
	if err := ds.DB.Create(buzzer).Error; err != nil {
		return dbErr(err, "creating buzzer")
	}
	return nil
}

func (ds *DataStore) TouchBuzzer(deviceID string, now time.Time) error {
	return ds.touchDevice(&Buzzer{}, "buzzer", deviceID, now)
}

// --- LED panels ---

func (ds *DataStore) GetPanel(id uint) (LEDPanel, error) {
	var panel LEDPanel
	if err := ds.DB.First(&panel, id).Error; err != nil {
		return LEDPanel{}, translateErr(err, "panel", id)
	}
	return panel, nil
}

func (ds *DataStore) GetPanelByDeviceID(deviceID string) (LEDPanel, error) {
	var panel LEDPanel
	if err := ds.DB.Where("device_id = ? OR client_id = ?", deviceID, deviceID).First(&panel).Error; err != nil {
		return LEDPanel{}, translateErr(err, "panel", deviceID)
	}
	return panel, nil
}

func (ds *DataStore) GetOnlinePanels() ([]LEDPanel, error) {
	var panels []LEDPanel
	if err := ds.DB.Where("is_online = ?", true).Find(&panels).Error; err != nil {
		return nil, dbErr(err, "listing online panels")
	}
	return panels, nil
}

func (ds *DataStore) GetPanelsByLocation(locationID uint) ([]LEDPanel, error) {
	var panels []LEDPanel
	if err := ds.DB.Where("location_id = ?", locationID).Find(&panels).Error; err != nil {
		return nil, dbErr(err, "listing panels for location")
	}
	return panels, nil
}

func (ds *DataStore) SetPanelSelectedTeacher(panelID, teacherID uint) error {
	res := ds.DB.Model(&LEDPanel{}).Where("id = ?", panelID).
		Update("selected_teacher_id", teacherID)
	if res.Error != nil {
		return dbErr(res.Error, "updating panel selection")
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundError("panel", panelID)
	}
	return nil
}

func (ds *DataStore) TouchPanel(deviceID string, now time.Time) error {
	return ds.touchDevice(&LEDPanel{}, "panel", deviceID, now)
}

// touchDevice updates liveness fields for the device row matching deviceID.
func (ds *DataStore) touchDevice(model any, entity, deviceID string, now time.Time) error {
	res := ds.DB.Model(model).Where("device_id = ? OR client_id = ?", deviceID, deviceID).
		Updates(map[string]any{"is_online": true, "last_seen": now})
	if res.Error != nil {
		return dbErr(res.Error, "updating device liveness")
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundError(entity, deviceID)
	}
	return nil
}

// --- Visits ---

// CreateVisit inserts a new visit row.
func (ds *DataStore) CreateVisit(visit *Visit) error {
	if err := ds.DB.Create(visit).Error; err != nil {
		return dbErr(err, "creating visit")
	}
	return nil
}

// GetVisit retrieves a visit by id.
func (ds *DataStore) GetVisit(id uint) (Visit, error) {
	var visit Visit
	if err := ds.DB.First(&visit, id).Error; err != nil {
		return Visit{}, translateErr(err, "visit", id)
	}
	return visit, nil
}

// GetVisitsByStatus lists visits in a given status, newest first, paginated.
func (ds *DataStore) GetVisitsByStatus(status VisitStatus, page, limit int) ([]Visit, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var visits []Visit
	err := ds.DB.Where("status = ?", status).
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&visits).Error
	if err != nil {
		return nil, dbErr(err, "listing visits")
	}
	return visits, nil
}

// GetLastPendingVisit returns the most recent pending visit for a doorbell
// created at or after since, or nil if there is none. A door opening with no
// recent ring is not an error, just unmatched.
func (ds *DataStore) GetLastPendingVisit(doorbellID uint, since time.Time) (*Visit, error) {
	var visit Visit
	err := ds.DB.
		Where("doorbell_id = ? AND status = ? AND created_at >= ?", doorbellID, VisitPending, since).
		Order("created_at DESC").
		First(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbErr(err, "finding pending visit")
	}
	return &visit, nil
}

// AnswerVisit transitions a pending visit to answered. The update is guarded
// by status = pending so a racing auto-miss sweep cannot be overwritten.
func (ds *DataStore) AnswerVisit(id, answeredByID uint, now time.Time) (Visit, error) {
	res := ds.DB.Model(&Visit{}).
		Where("id = ? AND status = ?", id, VisitPending).
		Updates(map[string]any{
			"status":         VisitAnswered,
			"answered_by_id": answeredByID,
			"answered_at":    now,
		})
	if res.Error != nil {
		return Visit{}, dbErr(res.Error, "answering visit")
	}
	if res.RowsAffected == 0 {
		visit, err := ds.GetVisit(id)
		if err != nil {
			return Visit{}, err
		}
		return visit, errors.InvalidStateError(
			fmt.Sprintf("visit %d already resolved as %s", id, visit.Status))
	}
	return ds.GetVisit(id)
}

// MarkVisitDoorOpened records the door-open ground truth on the visit and
// transitions it to answered if it is still pending. A visit already missed
// by the auto-miss sweep keeps its terminal status; only the door fields are
// updated. Idempotent in effect if called twice.
func (ds *DataStore) MarkVisitDoorOpened(id uint, now time.Time) (Visit, error) {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Visit{}).Where("id = ?", id).
			Updates(map[string]any{"door_opened": true, "door_opened_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&Visit{}).
			Where("id = ? AND status = ?", id, VisitPending).
			Updates(map[string]any{"status": VisitAnswered, "answered_at": now}).Error
	})
	if err != nil {
		return Visit{}, translateErr(err, "visit", id)
	}
	return ds.GetVisit(id)
}

// MarkVisitMissed transitions a pending visit to missed. Returns false when
// the visit was already resolved (no-op).
func (ds *DataStore) MarkVisitMissed(id uint) (bool, error) {
	res := ds.DB.Model(&Visit{}).
		Where("id = ? AND status = ?", id, VisitPending).
		Update("status", VisitMissed)
	if res.Error != nil {
		return false, dbErr(res.Error, "marking visit missed")
	}
	return res.RowsAffected > 0, nil
}

// AutoMissExpiredVisits transitions every pending visit whose auto-miss
// deadline has passed to missed in one guarded update and returns the visits
// actually transitioned. A second invocation in quick succession finds zero
// matching rows.
func (ds *DataStore) AutoMissExpiredVisits(now time.Time) ([]Visit, error) {
	var missed []Visit
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var expired []Visit
		if err := tx.Where("status = ? AND auto_miss_at <= ?", VisitPending, now).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]uint, len(expired))
		for i := range expired {
			ids[i] = expired[i].ID
		}

		if err := tx.Model(&Visit{}).
			Where("id IN ? AND status = ?", ids, VisitPending).
			Update("status", VisitMissed).Error; err != nil {
			return err
		}

		// Reload so a row answered between select and update is excluded.
		return tx.Where("id IN ? AND status = ?", ids, VisitMissed).
			Find(&missed).Error
	})
	if err != nil {
		return nil, dbErr(err, "auto-missing expired visits")
	}
	return missed, nil
}

// --- Calendar cache ---

// UpsertSchedule inserts or updates a synced calendar event keyed by its
// external event id. Idempotent per event id, so concurrent syncs of
// overlapping windows are safe.
func (ds *DataStore) UpsertSchedule(schedule *Schedule) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"calendar_id", "location_id", "teacher_email",
			"start_time", "end_time", "all_day", "updated_at",
		}),
	}).Create(schedule).Error
	if err != nil {
		return dbErr(err, "upserting schedule")
	}
	return nil
}

// DeleteSchedulesBefore removes cache entries that ended before the cutoff.
func (ds *DataStore) DeleteSchedulesBefore(cutoff time.Time) error {
	if err := ds.DB.Where("end_time < ?", cutoff).Delete(&Schedule{}).Error; err != nil {
		return dbErr(err, "pruning schedules")
	}
	return nil
}

// ActiveTeacherEmails returns the distinct teacher emails with a calendar
// window active (startTime <= now < endTime) at the given location.
func (ds *DataStore) ActiveTeacherEmails(locationID uint, now time.Time) ([]string, error) {
	var emails []string
	err := ds.DB.Model(&Schedule{}).
		Distinct("teacher_email").
		Where("location_id = ? AND teacher_email <> '' AND start_time <= ? AND end_time > ?",
			locationID, now, now).
		Pluck("teacher_email", &emails).Error
	if err != nil {
		return nil, dbErr(err, "listing active teacher emails")
	}
	return emails, nil
}

// SchedulesForTeacherBetween lists a teacher's busy windows overlapping the
// given range, used for the weekly panel grid.
func (ds *DataStore) SchedulesForTeacherBetween(email string, from, to time.Time) ([]Schedule, error) {
	var schedules []Schedule
	err := ds.DB.
		Where("teacher_email = ? AND start_time < ? AND end_time > ?", email, to, from).
		Order("start_time").
		Find(&schedules).Error
	if err != nil {
		return nil, dbErr(err, "listing teacher schedules")
	}
	return schedules, nil
}

// SchedulesCrossingBetween returns events whose start or end fell within the
// window, used by the presence sweep to detect busy-window boundary crossings.
func (ds *DataStore) SchedulesCrossingBetween(from, to time.Time) ([]Schedule, error) {
	var schedules []Schedule
	err := ds.DB.
		Where("(start_time > ? AND start_time <= ?) OR (end_time > ? AND end_time <= ?)",
			from, to, from, to).
		Find(&schedules).Error
	if err != nil {
		return nil, dbErr(err, "listing boundary-crossing schedules")
	}
	return schedules, nil
}

// --- Messages ---

func (ds *DataStore) CreateMessage(message *Message) error {
	if err := ds.DB.Create(message).Error; err != nil {
		return dbErr(err, "creating message")
	}
	return nil
}

func (ds *DataStore) GetMessagesForTeacher(teacherID uint, page, limit int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var messages []Message
	err := ds.DB.Where("teacher_id = ?", teacherID).
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, dbErr(err, "listing messages")
	}
	return messages, nil
}

func (ds *DataStore) MarkMessageRead(id uint) error {
	res := ds.DB.Model(&Message{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return dbErr(res.Error, "marking message read")
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundError("message", id)
	}
	return nil
}

// --- error helpers ---

// translateErr maps gorm lookup failures onto the application error taxonomy.
func translateErr(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFoundError(entity, id)
	}
	return dbErr(err, "querying "+entity)
}

func dbErr(err error, operation string) error {
	return errors.New(fmt.Errorf("%s: %w", operation, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()
}
