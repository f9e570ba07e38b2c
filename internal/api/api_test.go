package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/device"
	"github.com/klahtinen/deskbell-go/internal/errors"
	"github.com/klahtinen/deskbell-go/internal/notify"
	"github.com/klahtinen/deskbell-go/internal/presence"
	"github.com/klahtinen/deskbell-go/internal/visit"
)

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Visit.TimeoutSeconds = 30
	settings.Visit.PendingWindowMinutes = 5
	settings.MQTT.Namespace = "deskbell"
	return settings
}

func newTestController(ds *datastore.MockStore) (*Controller, *echo.Echo) {
	settings := testSettings()
	e := echo.New()

	visits := visit.NewService(ds, settings)
	resolver := presence.NewResolver(ds, nil)
	notifier := notify.NewService(ds, nil, settings)
	visits.SetMissedNotifier(notifier)
	devices := device.NewOrchestrator(ds, visits, resolver, notifier, nil)

	return New(e, ds, settings, devices, resolver, visits, notifier), e
}

func jsonRequest(method, target, body string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestSetManualStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		setup    func(*datastore.MockStore)
		wantCode int
	}{
		{
			name: "valid status accepted and broadcast",
			body: `{"status":"present"}`,
			setup: func(ds *datastore.MockStore) {
				ds.On("SetManualStatus", uint(1), (*datastore.PresenceStatus)(nil),
					mock.AnythingOfType("*datastore.PresenceStatus"), (*time.Time)(nil)).Return(nil)
				ds.On("GetTeacher", uint(1)).Return(datastore.Teacher{ID: 1, Username: "alice"}, nil)
				ds.On("GetOnlinePanels").Return([]datastore.LEDPanel{}, nil)
			},
			wantCode: http.StatusNoContent,
		},
		{
			name:     "unknown status rejected",
			body:     `{"status":"sleeping"}`,
			setup:    func(ds *datastore.MockStore) {},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "until in the past rejected",
			body:     `{"status":"present","until":"2020-01-01T00:00:00Z"}`,
			setup:    func(ds *datastore.MockStore) {},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "stale expected status conflicts",
			body: `{"status":"absent","expected":"present"}`,
			setup: func(ds *datastore.MockStore) {
				ds.On("SetManualStatus", uint(1), mock.AnythingOfType("*datastore.PresenceStatus"),
					mock.AnythingOfType("*datastore.PresenceStatus"), (*time.Time)(nil)).
					Return(errors.ConflictError("status changed concurrently"))
			},
			wantCode: http.StatusConflict,
		},
		{
			name: "missing teacher is 404",
			body: `{"status":"present"}`,
			setup: func(ds *datastore.MockStore) {
				ds.On("SetManualStatus", uint(1), (*datastore.PresenceStatus)(nil),
					mock.AnythingOfType("*datastore.PresenceStatus"), (*time.Time)(nil)).
					Return(errors.NotFoundError("teacher", 1))
			},
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ds := new(datastore.MockStore)
			tt.setup(ds)
			controller, e := newTestController(ds)

			req := jsonRequest(http.MethodPut, "/api/v1/teachers/1/status", tt.body)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues("1")

			require.NoError(t, controller.SetManualStatus(c))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestAnswerVisitConflictOnResolved(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("AnswerVisit", uint(5), uint(2), mock.AnythingOfType("time.Time")).
		Return(datastore.Visit{}, errors.InvalidStateError("visit already resolved"))

	controller, e := newTestController(ds)

	req := jsonRequest(http.MethodPost, "/api/v1/visits/5/answer", `{"teacherId":2}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("5")

	require.NoError(t, controller.AnswerVisit(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "already resolved")
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestAnswerVisitSuccess(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("AnswerVisit", uint(5), uint(2), mock.AnythingOfType("time.Time")).
		Return(datastore.Visit{ID: 5, Status: datastore.VisitAnswered}, nil)

	controller, e := newTestController(ds)

	req := jsonRequest(http.MethodPost, "/api/v1/visits/5/answer", `{"teacherId":2}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("5")

	require.NoError(t, controller.AnswerVisit(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var answered datastore.Visit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answered))
	assert.Equal(t, datastore.VisitAnswered, answered.Status)
}

func TestButtonPressedUnknownDoorbellIs404(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("GetDoorbellByDeviceID", "ghost").
		Return(datastore.Doorbell{}, errors.NotFoundError("doorbell", "ghost"))

	controller, e := newTestController(ds)

	req := jsonRequest(http.MethodPost, "/api/v1/devices/ghost/button", `{}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	require.NoError(t, controller.ButtonPressed(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListVisitsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	controller, e := newTestController(new(datastore.MockStore))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits?status=ringing", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, controller.ListVisits(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListVisitsDefaultsToPending(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("GetVisitsByStatus", datastore.VisitPending, 1, defaultPageLimit).
		Return([]datastore.Visit{{ID: 1, Status: datastore.VisitPending}}, nil)

	controller, e := newTestController(ds)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, controller.ListVisits(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	ds.AssertExpectations(t)
}

func TestCreateMessageValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body text", body: `{"teacherId":1,"body":"  "}`},
		{name: "no reference at all", body: `{"body":"hello"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			controller, e := newTestController(new(datastore.MockStore))

			req := jsonRequest(http.MethodPost, "/api/v1/messages", tt.body)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, controller.CreateMessage(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateMessageSuccess(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("CreateMessage", mock.MatchedBy(func(m *datastore.Message) bool {
		return m.Body == "back at 14:00" && m.TeacherID != nil
	})).Run(func(args mock.Arguments) {
		args.Get(0).(*datastore.Message).ID = 3
	}).Return(nil)

	controller, e := newTestController(ds)

	req := jsonRequest(http.MethodPost, "/api/v1/messages", `{"teacherId":1,"body":"back at 14:00"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, controller.CreateMessage(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetPresenceResolvesTeacher(t *testing.T) {
	t.Parallel()

	ds := new(datastore.MockStore)
	ds.On("GetLocationsForTeacher", uint(1)).Return([]datastore.Location{{ID: 4}}, nil)
	ds.On("GetTeacher", uint(1)).Return(datastore.Teacher{ID: 1, Username: "alice"}, nil)

	controller, e := newTestController(ds)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/teachers/1/presence", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	require.NoError(t, controller.GetPresence(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var res presence.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, uint(1), res.TeacherID)
	assert.Equal(t, presence.SourceUnavailable, res.Source)
}

func TestHeartbeatRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	controller, e := newTestController(new(datastore.MockStore))

	req := jsonRequest(http.MethodPost, "/api/v1/devices/toaster/x/heartbeat", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "id")
	c.SetParamValues("toaster", "x")

	require.NoError(t, controller.Heartbeat(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
