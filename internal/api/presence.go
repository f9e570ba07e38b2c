package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/errors"
	"github.com/klahtinen/deskbell-go/internal/notify"
	"github.com/klahtinen/deskbell-go/internal/presence"
)

// manualStatusRequest sets a manual override. Expected guards against lost
// updates: when set, the write only applies if the stored status still
// matches it. A nil until means the override holds until cleared.
type manualStatusRequest struct {
	Status   string     `json:"status"`
	Until    *time.Time `json:"until,omitempty"`
	Expected *string    `json:"expected,omitempty"`
}

// clearStatusRequest optionally guards a clear with the expected current
// status.
type clearStatusRequest struct {
	Expected *string `json:"expected,omitempty"`
}

func paramUint(ctx echo.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(ctx.Param(name), 10, 32)
	if err != nil {
		return 0, errors.ValidationError("invalid " + name)
	}
	return uint(value), nil
}

// GetPresence handles GET /api/v1/teachers/:id/presence. An explicit
// locationId query scopes the calendar lookup; without one the teacher's
// first assigned location is used.
func (c *Controller) GetPresence(ctx echo.Context) error {
	teacherID, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse teacher id")
	}

	locationID, err := c.presenceLocation(ctx, teacherID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to determine location")
	}

	res, err := c.resolver.ResolveTeacher(teacherID, locationID, time.Now())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve presence")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (c *Controller) presenceLocation(ctx echo.Context, teacherID uint) (uint, error) {
	if raw := ctx.QueryParam("locationId"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return 0, errors.ValidationError("invalid locationId")
		}
		return uint(value), nil
	}

	locations, err := c.DS.GetLocationsForTeacher(teacherID)
	if err != nil {
		return 0, err
	}
	if len(locations) == 0 {
		return 0, nil
	}
	return locations[0].ID, nil
}

// SetManualStatus handles PUT /api/v1/teachers/:id/status. The change is
// broadcast to panels immediately; the sweep only handles expiries.
func (c *Controller) SetManualStatus(ctx echo.Context) error {
	teacherID, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse teacher id")
	}

	var req manualStatusRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid request body"), "Failed to parse status request")
	}

	status := datastore.PresenceStatus(req.Status)
	if !status.Valid() {
		return c.HandleError(ctx, errors.ValidationError("invalid status: "+req.Status), "Failed to parse status request")
	}
	if req.Until != nil && req.Until.Before(time.Now()) {
		return c.HandleError(ctx, errors.ValidationError("until must be in the future"), "Failed to parse status request")
	}

	expected, err := parseExpected(req.Expected)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse status request")
	}

	if err := c.DS.SetManualStatus(teacherID, expected, &status, req.Until); err != nil {
		return c.HandleError(ctx, err, "Failed to set manual status")
	}

	c.broadcastManualChange(ctx, teacherID, string(status), req.Until, string(presence.SourceManual))
	c.logOperation(ctx, "manual status set", "teacher_id", teacherID, "status", status)
	return ctx.NoContent(http.StatusNoContent)
}

// ClearManualStatus handles DELETE /api/v1/teachers/:id/status. Presence
// falls back to the calendar; the broadcast carries whatever the teacher
// resolves to without the override.
func (c *Controller) ClearManualStatus(ctx echo.Context) error {
	teacherID, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse teacher id")
	}

	var req clearStatusRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid request body"), "Failed to parse clear request")
	}

	expected, err := parseExpected(req.Expected)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse clear request")
	}

	if err := c.DS.SetManualStatus(teacherID, expected, nil, nil); err != nil {
		return c.HandleError(ctx, err, "Failed to clear manual status")
	}

	locationID, locErr := c.presenceLocation(ctx, teacherID)
	if locErr == nil {
		if res, resErr := c.resolver.ResolveTeacher(teacherID, locationID, time.Now()); resErr == nil {
			status := datastore.StatusAbsent
			if res.IsPresent {
				status = datastore.StatusPresent
			}
			c.broadcastManualChange(ctx, teacherID, string(status), nil, string(res.Source))
		}
	}

	c.logOperation(ctx, "manual status cleared", "teacher_id", teacherID)
	return ctx.NoContent(http.StatusNoContent)
}

func parseExpected(raw *string) (*datastore.PresenceStatus, error) {
	if raw == nil {
		return nil, nil
	}
	expected := datastore.PresenceStatus(*raw)
	if !expected.Valid() {
		return nil, errors.ValidationError("invalid expected status: " + *raw)
	}
	return &expected, nil
}

func (c *Controller) broadcastManualChange(ctx echo.Context, teacherID uint, status string, until *time.Time, source string) {
	teacher, err := c.DS.GetTeacher(teacherID)
	if err != nil {
		c.apiLogger.Error("broadcast skipped, teacher lookup failed",
			"teacher_id", teacherID, "error", err)
		return
	}
	c.notifier.BroadcastPresenceChange(ctx.Request().Context(), &notify.PresenceChanged{
		TeacherID:   teacher.ID,
		TeacherName: teacher.Username,
		Status:      status,
		Until:       until,
		Source:      source,
	})
}

// LocationTeachers handles GET /api/v1/locations/:id/teachers. The roster
// carries live presence flags, the same shape panels receive over the bus.
func (c *Controller) LocationTeachers(ctx echo.Context) error {
	locationID, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse location id")
	}

	resolutions, err := c.resolver.TeachersInLocation(locationID, time.Now())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve location teachers")
	}
	return ctx.JSON(http.StatusOK, resolutions)
}
