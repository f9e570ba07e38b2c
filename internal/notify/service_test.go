package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/errors"
	"github.com/klahtinen/deskbell-go/internal/mqtt"
)

// fakeBus records publishes and fails topics matching configured substrings.
type fakeBus struct {
	mu        sync.Mutex
	published []string
	failWhen  []string
}

func (b *fakeBus) Connect(ctx context.Context) error { return nil }
func (b *fakeBus) IsConnected() bool                 { return true }
func (b *fakeBus) Disconnect()                       {}

func (b *fakeBus) Subscribe(topic string, handler mqtt.MessageHandler) error {
	return nil
}

func (b *fakeBus) Publish(ctx context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fragment := range b.failWhen {
		if strings.Contains(topic, fragment) {
			return errors.NewStd("publish failed: " + topic)
		}
	}
	b.published = append(b.published, topic)
	return nil
}

func (b *fakeBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.MQTT.Namespace = "deskbell"
	settings.Visit.BellDurationMs = 1500
	settings.Visit.BuzzDurationMs = 800
	settings.Devices.OfflineAfterMinutes = 5
	return settings
}

func recentTime() *time.Time {
	t := time.Now().Add(-time.Minute)
	return &t
}

func staleTime() *time.Time {
	t := time.Now().Add(-time.Hour)
	return &t
}

func TestFanOutIsolatesChannelFailures(t *testing.T) {
	t.Parallel()

	visit := &datastore.Visit{ID: 1, DoorbellID: 10, LocationID: 20}
	teachers := []datastore.Teacher{
		{ID: 1, Username: "alice", BuzzerEnabled: true},
		{ID: 2, Username: "bob", BuzzerEnabled: true},
	}

	ds := new(datastore.MockStore)
	ds.On("GetDoorbell", uint(10)).Return(datastore.Doorbell{ID: 10, ClientID: "door-1"}, nil)
	ds.On("GetLocation", uint(20)).Return(datastore.Location{ID: 20, Name: "Office"}, nil)
	ds.On("GetBuzzerForTeacher", uint(1)).
		Return(datastore.Buzzer{ID: 1, ClientID: "buzz-alice", IsOnline: true, LastSeen: recentTime()}, nil)
	ds.On("GetBuzzerForTeacher", uint(2)).
		Return(datastore.Buzzer{ID: 2, ClientID: "buzz-bob", IsOnline: true, LastSeen: recentTime()}, nil)

	// Bob's buzzer publish fails; Alice's succeeds.
	bus := &fakeBus{failWhen: []string{"buzz-bob"}}
	s := NewService(ds, bus, testSettings())

	results := s.NotifyTeachersOfRing(context.Background(), visit, teachers)
	require.Len(t, results, 2)

	byTeacher := map[uint][]string{}
	for _, r := range results {
		byTeacher[r.TeacherID] = r.Channels
	}

	assert.ElementsMatch(t, []string{ChannelDoorbell, ChannelBuzzer}, byTeacher[1])
	// Bob still gets the doorbell channel: the bell rang for everyone.
	assert.ElementsMatch(t, []string{ChannelDoorbell}, byTeacher[2])
}

func TestFanOutRingsBellOnceBeforeTeachers(t *testing.T) {
	t.Parallel()

	visit := &datastore.Visit{ID: 1, DoorbellID: 10, LocationID: 20}

	ds := new(datastore.MockStore)
	ds.On("GetDoorbell", uint(10)).Return(datastore.Doorbell{ID: 10, ClientID: "door-1"}, nil)
	ds.On("GetLocation", uint(20)).Return(datastore.Location{ID: 20}, nil)

	bus := &fakeBus{}
	s := NewService(ds, bus, testSettings())

	results := s.NotifyTeachersOfRing(context.Background(), visit, nil)
	assert.Empty(t, results)

	topics := bus.topics()
	require.Len(t, topics, 1)
	assert.Equal(t, "deskbell/door-1/bell/activate", topics[0])
}

func TestFanOutSkipsOfflineBuzzer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		buzzer datastore.Buzzer
	}{
		{
			name:   "flagged offline",
			buzzer: datastore.Buzzer{ID: 1, ClientID: "buzz-1", IsOnline: false, LastSeen: recentTime()},
		},
		{
			name:   "stale heartbeat decays to offline",
			buzzer: datastore.Buzzer{ID: 1, ClientID: "buzz-1", IsOnline: true, LastSeen: staleTime()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			visit := &datastore.Visit{ID: 1, DoorbellID: 10, LocationID: 20}
			teachers := []datastore.Teacher{{ID: 1, Username: "alice", BuzzerEnabled: true}}

			ds := new(datastore.MockStore)
			ds.On("GetDoorbell", uint(10)).Return(datastore.Doorbell{ID: 10, ClientID: "door-1"}, nil)
			ds.On("GetLocation", uint(20)).Return(datastore.Location{ID: 20}, nil)
			ds.On("GetBuzzerForTeacher", uint(1)).Return(tt.buzzer, nil)

			bus := &fakeBus{}
			s := NewService(ds, bus, testSettings())

			results := s.NotifyTeachersOfRing(context.Background(), visit, teachers)
			require.Len(t, results, 1)
			assert.ElementsMatch(t, []string{ChannelDoorbell}, results[0].Channels)

			for _, topic := range bus.topics() {
				assert.NotContains(t, topic, "buzz/activate")
			}
		})
	}
}

func TestBroadcastPresenceChangeSkipsOfflinePanels(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("GetOnlinePanels").Return([]datastore.LEDPanel{
		{ID: 1, ClientID: "panel-1", IsOnline: true, LastSeen: recentTime()},
		{ID: 2, ClientID: "panel-2", IsOnline: true, LastSeen: staleTime()},
	}, nil)

	bus := &fakeBus{}
	s := NewService(ds, bus, testSettings())

	s.BroadcastPresenceChange(context.Background(), &PresenceChanged{
		TeacherID: 1, TeacherName: "alice", Status: "present", Source: "manual",
	})

	topics := bus.topics()
	require.Len(t, topics, 1)
	assert.Equal(t, "deskbell/panel-1/presence/changed", topics[0])
}

func TestNotifyVisitMissedTargetsOriginatingDoorbell(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("GetDoorbell", uint(10)).Return(datastore.Doorbell{ID: 10, ClientID: "door-1"}, nil)

	bus := &fakeBus{}
	s := NewService(ds, bus, testSettings())

	s.NotifyVisitMissed(context.Background(), &datastore.Visit{ID: 3, DoorbellID: 10})

	topics := bus.topics()
	require.Len(t, topics, 1)
	assert.Equal(t, "deskbell/door-1/visit/missed", topics[0])
}
