package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualStatusActive(t *testing.T) {
	t.Parallel()

	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name   string
		status *ManualStatus
		want   bool
	}{
		{name: "nil receiver is inactive", status: nil, want: false},
		{
			name:   "indefinite override is active",
			status: &ManualStatus{Status: StatusPresent},
			want:   true,
		},
		{
			name:   "future expiry is active",
			status: &ManualStatus{Status: StatusDND, Until: &future},
			want:   true,
		},
		{
			name:   "past expiry is inactive",
			status: &ManualStatus{Status: StatusPresent, Until: &past},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Active(now))
		})
	}
}

func TestTeacherManual(t *testing.T) {
	t.Parallel()

	t.Run("no override columns means no override", func(t *testing.T) {
		t.Parallel()
		teacher := Teacher{}
		assert.False(t, teacher.Manual().Active(time.Now()))
	})

	t.Run("override columns round-trip", func(t *testing.T) {
		t.Parallel()
		status := StatusDND
		until := time.Now().Add(time.Hour)
		teacher := Teacher{ManualStatus: &status, ManualStatusUntil: &until}

		manual := teacher.Manual()
		assert.True(t, manual.Active(time.Now()))
		assert.Equal(t, StatusDND, manual.Status)
	})
}

func TestPresenceStatusValid(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusPresent.Valid())
	assert.True(t, StatusAbsent.Valid())
	assert.True(t, StatusDND.Valid())
	assert.False(t, PresenceStatus("busy").Valid())
	assert.False(t, PresenceStatus("").Valid())
}

func TestVisitStatusValid(t *testing.T) {
	t.Parallel()

	assert.True(t, VisitPending.Valid())
	assert.True(t, VisitAnswered.Valid())
	assert.True(t, VisitMissed.Valid())
	assert.False(t, VisitStatus("ringing").Valid())
}

func TestVisitResolved(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Visit{Status: VisitPending}).Resolved())
	assert.True(t, (&Visit{Status: VisitAnswered}).Resolved())
	assert.True(t, (&Visit{Status: VisitMissed}).Resolved())
}

func TestTeacherHasCalendarIdentity(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Teacher{}).HasCalendarIdentity())
	assert.True(t, (&Teacher{CalendarEmail: "t@school.example"}).HasCalendarIdentity())
}
