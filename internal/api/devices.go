package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/klahtinen/deskbell-go/internal/device"
	"github.com/klahtinen/deskbell-go/internal/errors"
)

// buttonRequest is the body of a ring over HTTP. The target is optional.
type buttonRequest struct {
	TargetTeacherID *uint `json:"targetTeacherId,omitempty"`
}

// teacherSelectRequest is the body of a panel teacher selection.
type teacherSelectRequest struct {
	TeacherID uint `json:"teacherId"`
}

// ButtonPressed handles POST /api/v1/devices/:id/button. It answers with the
// created visit; notification fan-out continues in the background.
func (c *Controller) ButtonPressed(ctx echo.Context) error {
	deviceID := ctx.Param("id")

	var req buttonRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid request body"), "Failed to parse button request")
	}

	created, err := c.devices.HandleButtonPressed(ctx.Request().Context(), deviceID, req.TargetTeacherID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to register ring")
	}

	c.logOperation(ctx, "ring accepted", "device_id", deviceID, "visit_id", created.ID)
	return ctx.JSON(http.StatusCreated, created)
}

// DoorOpened handles POST /api/v1/devices/:id/door. The body answers with
// the visit the event resolved, or null when no pending visit matched.
func (c *Controller) DoorOpened(ctx echo.Context) error {
	deviceID := ctx.Param("id")

	resolved, err := c.devices.HandleDoorOpened(ctx.Request().Context(), deviceID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to process door event")
	}

	if resolved != nil {
		c.logOperation(ctx, "visit answered by door", "device_id", deviceID, "visit_id", resolved.ID)
	}
	return ctx.JSON(http.StatusOK, resolved)
}

// TeacherSelected handles POST /api/v1/devices/:id/teacher.
func (c *Controller) TeacherSelected(ctx echo.Context) error {
	deviceID := ctx.Param("id")

	var req teacherSelectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid request body"), "Failed to parse selection request")
	}
	if req.TeacherID == 0 {
		return c.HandleError(ctx, errors.ValidationError("teacherId is required"), "Failed to parse selection request")
	}

	if err := c.devices.HandleTeacherSelected(ctx.Request().Context(), deviceID, req.TeacherID); err != nil {
		return c.HandleError(ctx, err, "Failed to select teacher")
	}

	c.logOperation(ctx, "teacher selected", "device_id", deviceID, "teacher_id", req.TeacherID)
	return ctx.NoContent(http.StatusNoContent)
}

// Heartbeat handles POST /api/v1/devices/:kind/:id/heartbeat.
func (c *Controller) Heartbeat(ctx echo.Context) error {
	kind, err := device.ParseKind(ctx.Param("kind"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse device kind")
	}

	if err := c.devices.HandleHeartbeat(ctx.Request().Context(), kind, ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to record heartbeat")
	}
	return ctx.NoContent(http.StatusNoContent)
}
