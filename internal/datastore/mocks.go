package datastore

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore implements Interface for testing. Service tests across packages
// share this double instead of each maintaining their own.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Open() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) GetTeacher(id uint) (Teacher, error) {
	args := m.Called(id)
	return args.Get(0).(Teacher), args.Error(1)
}

func (m *MockStore) GetTeacherByUsername(username string) (Teacher, error) {
	args := m.Called(username)
	return args.Get(0).(Teacher), args.Error(1)
}

func (m *MockStore) GetTeachersByLocation(locationID uint) ([]Teacher, error) {
	args := m.Called(locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Teacher), args.Error(1)
}

func (m *MockStore) GetLocationsForTeacher(teacherID uint) ([]Location, error) {
	args := m.Called(teacherID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Location), args.Error(1)
}

func (m *MockStore) SetManualStatus(teacherID uint, expected, status *PresenceStatus, until *time.Time) error {
	args := m.Called(teacherID, expected, status, until)
	return args.Error(0)
}

func (m *MockStore) TeachersWithStatusExpiredBetween(from, to time.Time) ([]Teacher, error) {
	args := m.Called(from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Teacher), args.Error(1)
}

func (m *MockStore) GetLocation(id uint) (Location, error) {
	args := m.Called(id)
	return args.Get(0).(Location), args.Error(1)
}

func (m *MockStore) GetAllLocations() ([]Location, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Location), args.Error(1)
}

func (m *MockStore) GetDoorbell(id uint) (Doorbell, error) {
	args := m.Called(id)
	return args.Get(0).(Doorbell), args.Error(1)
}

func (m *MockStore) GetDoorbellByDeviceID(deviceID string) (Doorbell, error) {
	args := m.Called(deviceID)
	return args.Get(0).(Doorbell), args.Error(1)
}

func (m *MockStore) CreateDoorbell(doorbell *Doorbell) error {
	args := m.Called(doorbell)
	return args.Error(0)
}

func (m *MockStore) TouchDoorbell(deviceID string, now time.Time) error {
	args := m.Called(deviceID, now)
	return args.Error(0)
}

func (m *MockStore) GetBuzzerForTeacher(teacherID uint) (Buzzer, error) {
	args := m.Called(teacherID)
	return args.Get(0).(Buzzer), args.Error(1)
}

func (m *MockStore) GetBuzzerByDeviceID(deviceID string) (Buzzer, error) {
	args := m.Called(deviceID)
	return args.Get(0).(Buzzer), args.Error(1)
}

func (m *MockStore) CreateBuzzer(buzzer *Buzzer) error {
	args := m.Called(buzzer)
	return args.Error(0)
}

func (m *MockStore) TouchBuzzer(deviceID string, now time.Time) error {
	args := m.Called(deviceID, now)
	return args.Error(0)
}

func (m *MockStore) GetPanel(id uint) (LEDPanel, error) {
	args := m.Called(id)
	return args.Get(0).(LEDPanel), args.Error(1)
}

func (m *MockStore) GetPanelByDeviceID(deviceID string) (LEDPanel, error) {
	args := m.Called(deviceID)
	return args.Get(0).(LEDPanel), args.Error(1)
}

func (m *MockStore) GetOnlinePanels() ([]LEDPanel, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]LEDPanel), args.Error(1)
}

func (m *MockStore) GetPanelsByLocation(locationID uint) ([]LEDPanel, error) {
	args := m.Called(locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]LEDPanel), args.Error(1)
}

func (m *MockStore) SetPanelSelectedTeacher(panelID, teacherID uint) error {
	args := m.Called(panelID, teacherID)
	return args.Error(0)
}

func (m *MockStore) TouchPanel(deviceID string, now time.Time) error {
	args := m.Called(deviceID, now)
	return args.Error(0)
}

func (m *MockStore) CreateVisit(visit *Visit) error {
	args := m.Called(visit)
	return args.Error(0)
}

func (m *MockStore) GetVisit(id uint) (Visit, error) {
	args := m.Called(id)
	return args.Get(0).(Visit), args.Error(1)
}

func (m *MockStore) GetVisitsByStatus(status VisitStatus, page, limit int) ([]Visit, error) {
	args := m.Called(status, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Visit), args.Error(1)
}

func (m *MockStore) GetLastPendingVisit(doorbellID uint, since time.Time) (*Visit, error) {
	args := m.Called(doorbellID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Visit), args.Error(1)
}

func (m *MockStore) AnswerVisit(id, answeredByID uint, now time.Time) (Visit, error) {
	args := m.Called(id, answeredByID, now)
	return args.Get(0).(Visit), args.Error(1)
}

func (m *MockStore) MarkVisitDoorOpened(id uint, now time.Time) (Visit, error) {
	args := m.Called(id, now)
	return args.Get(0).(Visit), args.Error(1)
}

func (m *MockStore) MarkVisitMissed(id uint) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) AutoMissExpiredVisits(now time.Time) ([]Visit, error) {
	args := m.Called(now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Visit), args.Error(1)
}

func (m *MockStore) UpsertSchedule(schedule *Schedule) error {
	args := m.Called(schedule)
	return args.Error(0)
}

func (m *MockStore) DeleteSchedulesBefore(cutoff time.Time) error {
	args := m.Called(cutoff)
	return args.Error(0)
}

func (m *MockStore) ActiveTeacherEmails(locationID uint, now time.Time) ([]string, error) {
	args := m.Called(locationID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) SchedulesForTeacherBetween(email string, from, to time.Time) ([]Schedule, error) {
	args := m.Called(email, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Schedule), args.Error(1)
}

func (m *MockStore) SchedulesCrossingBetween(from, to time.Time) ([]Schedule, error) {
	args := m.Called(from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Schedule), args.Error(1)
}

func (m *MockStore) CreateMessage(message *Message) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockStore) GetMessagesForTeacher(teacherID uint, page, limit int) ([]Message, error) {
	args := m.Called(teacherID, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockStore) MarkMessageRead(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}
