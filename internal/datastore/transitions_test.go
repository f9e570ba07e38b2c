// transitions_test.go: conditional-update guards exercised against a real
// in-memory SQLite database.
package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/klahtinen/deskbell-go/internal/errors"
)

// setupTestStore creates an in-memory SQLite database with the full schema.
func setupTestStore(t *testing.T) *DataStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&Teacher{},
		&Location{},
		&Schedule{},
		&Visit{},
		&Message{},
		&Doorbell{},
		&Buzzer{},
		&LEDPanel{},
	))

	return &DataStore{DB: db}
}

func seedPendingVisit(t *testing.T, ds *DataStore, doorbellID uint, createdAt, autoMissAt time.Time) Visit {
	t.Helper()
	visit := Visit{
		DoorbellID: doorbellID,
		LocationID: 1,
		Status:     VisitPending,
		CreatedAt:  createdAt,
		AutoMissAt: autoMissAt,
	}
	require.NoError(t, ds.CreateVisit(&visit))
	return visit
}

func TestAnswerVisitTransitionsPending(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	now := time.Now()
	visit := seedPendingVisit(t, ds, 1, now, now.Add(30*time.Second))

	answered, err := ds.AnswerVisit(visit.ID, 5, now)
	require.NoError(t, err)
	assert.Equal(t, VisitAnswered, answered.Status)
	require.NotNil(t, answered.AnsweredByID)
	assert.Equal(t, uint(5), *answered.AnsweredByID)
	assert.NotNil(t, answered.AnsweredAt)
}

func TestAnswerVisitRejectsResolvedVisit(t *testing.T) {
	t.Parallel()

	// The status = pending guard: whoever loses the race against the
	// auto-miss sweep must not overwrite the terminal state.
	ds := setupTestStore(t)
	now := time.Now()
	visit := seedPendingVisit(t, ds, 1, now, now.Add(30*time.Second))

	transitioned, err := ds.MarkVisitMissed(visit.ID)
	require.NoError(t, err)
	require.True(t, transitioned)

	_, err = ds.AnswerVisit(visit.ID, 5, now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	reloaded, err := ds.GetVisit(visit.ID)
	require.NoError(t, err)
	assert.Equal(t, VisitMissed, reloaded.Status)
}

func TestMarkVisitMissedIsNoOpOnTerminal(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	now := time.Now()
	visit := seedPendingVisit(t, ds, 1, now, now.Add(30*time.Second))

	_, err := ds.AnswerVisit(visit.ID, 5, now)
	require.NoError(t, err)

	transitioned, err := ds.MarkVisitMissed(visit.ID)
	require.NoError(t, err)
	assert.False(t, transitioned)

	reloaded, err := ds.GetVisit(visit.ID)
	require.NoError(t, err)
	assert.Equal(t, VisitAnswered, reloaded.Status)
}

func TestAutoMissExpiredVisitsExactlyOnce(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	now := time.Now()

	expired1 := seedPendingVisit(t, ds, 1, now.Add(-2*time.Minute), now.Add(-90*time.Second))
	expired2 := seedPendingVisit(t, ds, 1, now.Add(-time.Minute), now.Add(-30*time.Second))
	fresh := seedPendingVisit(t, ds, 1, now, now.Add(30*time.Second))

	missed, err := ds.AutoMissExpiredVisits(now)
	require.NoError(t, err)
	require.Len(t, missed, 2)
	ids := []uint{missed[0].ID, missed[1].ID}
	assert.ElementsMatch(t, []uint{expired1.ID, expired2.ID}, ids)

	// A second sweep over the same instant finds nothing left to transition.
	again, err := ds.AutoMissExpiredVisits(now)
	require.NoError(t, err)
	assert.Empty(t, again)

	reloaded, err := ds.GetVisit(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, VisitPending, reloaded.Status)
}

func TestMarkVisitDoorOpenedKeepsMissedStatus(t *testing.T) {
	t.Parallel()

	// Door opening after the auto-miss won records the ground truth but does
	// not resurrect the visit.
	ds := setupTestStore(t)
	now := time.Now()
	visit := seedPendingVisit(t, ds, 1, now.Add(-time.Minute), now.Add(-30*time.Second))

	transitioned, err := ds.MarkVisitMissed(visit.ID)
	require.NoError(t, err)
	require.True(t, transitioned)

	opened, err := ds.MarkVisitDoorOpened(visit.ID, now)
	require.NoError(t, err)
	assert.True(t, opened.DoorOpened)
	assert.NotNil(t, opened.DoorOpenedAt)
	assert.Equal(t, VisitMissed, opened.Status)
}

func TestMarkVisitDoorOpenedAnswersPending(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	now := time.Now()
	visit := seedPendingVisit(t, ds, 1, now, now.Add(30*time.Second))

	opened, err := ds.MarkVisitDoorOpened(visit.ID, now)
	require.NoError(t, err)
	assert.True(t, opened.DoorOpened)
	assert.Equal(t, VisitAnswered, opened.Status)
}

func TestGetLastPendingVisitPicksMostRecent(t *testing.T) {
	t.Parallel()

	// Two rings before either is answered: the door sensor correlates to the
	// newest one, the older stays pending for its own timer.
	ds := setupTestStore(t)
	now := time.Now()
	older := seedPendingVisit(t, ds, 1, now.Add(-2*time.Minute), now.Add(time.Minute))
	newer := seedPendingVisit(t, ds, 1, now.Add(-time.Minute), now.Add(time.Minute))

	found, err := ds.GetLastPendingVisit(1, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newer.ID, found.ID)

	reloaded, err := ds.GetVisit(older.ID)
	require.NoError(t, err)
	assert.Equal(t, VisitPending, reloaded.Status)
}

func TestGetLastPendingVisitIgnoresOldAndResolved(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	now := time.Now()

	stale := seedPendingVisit(t, ds, 1, now.Add(-10*time.Minute), now.Add(-9*time.Minute))
	answered := seedPendingVisit(t, ds, 1, now.Add(-time.Minute), now.Add(time.Minute))
	_, err := ds.AnswerVisit(answered.ID, 5, now)
	require.NoError(t, err)

	found, err := ds.GetLastPendingVisit(1, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, found)

	reloaded, err := ds.GetVisit(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, VisitPending, reloaded.Status)
}

func TestSetManualStatusCompareAndSet(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	present := StatusPresent
	absent := StatusAbsent
	dnd := StatusDND

	teacher := Teacher{Username: "alice", ManualStatus: &present}
	require.NoError(t, ds.DB.Create(&teacher).Error)

	// Stale expectation loses.
	err := ds.SetManualStatus(teacher.ID, &absent, &dnd, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// Matching expectation wins.
	require.NoError(t, ds.SetManualStatus(teacher.ID, &present, &dnd, nil))
	reloaded, err := ds.GetTeacher(teacher.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ManualStatus)
	assert.Equal(t, StatusDND, *reloaded.ManualStatus)

	// A nil expectation writes unconditionally, clearing the override here.
	require.NoError(t, ds.SetManualStatus(teacher.ID, nil, nil, nil))
	reloaded, err = ds.GetTeacher(teacher.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.ManualStatus)
	assert.Nil(t, reloaded.ManualStatusUntil)

	err = ds.SetManualStatus(999, nil, &present, nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestUpsertScheduleIsIdempotentPerEventID(t *testing.T) {
	t.Parallel()

	ds := setupTestStore(t)
	start := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	first := Schedule{
		CalendarID:      "cal-1",
		LocationID:      1,
		ExternalEventID: "evt-42",
		TeacherEmail:    "alice@school.example",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
	}
	require.NoError(t, ds.UpsertSchedule(&first))

	// Same external id with a moved end: updated in place, no second row.
	second := first
	second.ID = 0
	second.EndTime = start.Add(2 * time.Hour)
	require.NoError(t, ds.UpsertSchedule(&second))

	var count int64
	require.NoError(t, ds.DB.Model(&Schedule{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored Schedule
	require.NoError(t, ds.DB.Where("external_event_id = ?", "evt-42").First(&stored).Error)
	assert.True(t, stored.EndTime.Equal(start.Add(2*time.Hour)))
}
