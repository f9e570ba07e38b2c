package visit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
)

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Visit.TimeoutSeconds = 30
	settings.Visit.PendingWindowMinutes = 5
	return settings
}

// recordingNotifier counts missed notices per visit id.
type recordingNotifier struct {
	mu     sync.Mutex
	missed []uint
}

func (n *recordingNotifier) NotifyVisitMissed(ctx context.Context, visit *datastore.Visit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, visit.ID)
}

func TestCreateSetsAutoMissDeadline(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("CreateVisit", mock.AnythingOfType("*datastore.Visit")).Run(func(args mock.Arguments) {
		args.Get(0).(*datastore.Visit).ID = 42
	}).Return(nil)

	s := NewService(ds, testSettings())

	before := time.Now()
	created, err := s.Create(1, 2, nil)
	require.NoError(t, err)

	assert.Equal(t, uint(42), created.ID)
	assert.Equal(t, datastore.VisitPending, created.Status)
	expected := before.Add(30 * time.Second)
	assert.WithinDuration(t, expected, created.AutoMissAt, 2*time.Second)
	ds.AssertExpectations(t)
}

func TestMarkAsMissedNotifiesOnlyOnTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		transitioned bool
		wantNotices  int
	}{
		{name: "pending visit transitions and notifies", transitioned: true, wantNotices: 1},
		{name: "already resolved visit stays silent", transitioned: false, wantNotices: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ds := new(datastore.MockStore)
			ds.On("MarkVisitMissed", uint(7)).Return(tt.transitioned, nil)
			ds.On("GetVisit", uint(7)).Return(datastore.Visit{ID: 7, Status: datastore.VisitMissed}, nil)

			notifier := &recordingNotifier{}
			s := NewService(ds, testSettings())
			s.SetMissedNotifier(notifier)

			_, err := s.MarkAsMissed(context.Background(), 7)
			require.NoError(t, err)
			assert.Len(t, notifier.missed, tt.wantNotices)
		})
	}
}

func TestAutoMissExpiredNotifiesEachVisitOnce(t *testing.T) {
	t.Parallel()

	now := time.Now()
	expired := []datastore.Visit{
		{ID: 1, Status: datastore.VisitMissed},
		{ID: 2, Status: datastore.VisitMissed},
		{ID: 3, Status: datastore.VisitMissed},
	}

	ds := new(datastore.MockStore)
	ds.On("AutoMissExpiredVisits", now).Return(expired, nil)

	notifier := &recordingNotifier{}
	s := NewService(ds, testSettings())
	s.SetMissedNotifier(notifier)

	count, err := s.AutoMissExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.ElementsMatch(t, []uint{1, 2, 3}, notifier.missed)
	ds.AssertExpectations(t)
}

func TestAutoMissExpiredEmptySweep(t *testing.T) {
	t.Parallel()

	now := time.Now()
	ds := new(datastore.MockStore)
	ds.On("AutoMissExpiredVisits", now).Return([]datastore.Visit{}, nil)

	notifier := &recordingNotifier{}
	s := NewService(ds, testSettings())
	s.SetMissedNotifier(notifier)

	count, err := s.AutoMissExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, notifier.missed)
}

func TestMissedWithoutNotifierDoesNotPanic(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("MarkVisitMissed", uint(9)).Return(true, nil)
	ds.On("GetVisit", uint(9)).Return(datastore.Visit{ID: 9, Status: datastore.VisitMissed}, nil)

	s := NewService(ds, testSettings())

	_, err := s.MarkAsMissed(context.Background(), 9)
	require.NoError(t, err)
}

func TestLastPendingUsesCorrelationWindow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pending := &datastore.Visit{ID: 5, Status: datastore.VisitPending}

	ds := new(datastore.MockStore)
	ds.On("GetLastPendingVisit", uint(4), mock.MatchedBy(func(since time.Time) bool {
		want := now.Add(-5 * time.Minute)
		return since.Sub(want).Abs() < time.Second
	})).Return(pending, nil)

	s := NewService(ds, testSettings())

	found, err := s.LastPending(4, now)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, uint(5), found.ID)
	ds.AssertExpectations(t)
}

func TestLastPendingNoMatchIsNotAnError(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("GetLastPendingVisit", uint(4), mock.AnythingOfType("time.Time")).Return(nil, nil)

	s := NewService(ds, testSettings())

	found, err := s.LastPending(4, time.Now())
	require.NoError(t, err)
	assert.Nil(t, found)
}
