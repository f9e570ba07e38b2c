package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/errors"
)

// messageRequest creates a message left by a visitor. At least one of the
// visit, teacher or location references must be set so the message can be
// surfaced somewhere.
type messageRequest struct {
	VisitID    *uint  `json:"visitId,omitempty"`
	TeacherID  *uint  `json:"teacherId,omitempty"`
	LocationID *uint  `json:"locationId,omitempty"`
	Body       string `json:"body"`
}

// CreateMessage handles POST /api/v1/messages.
func (c *Controller) CreateMessage(ctx echo.Context) error {
	var req messageRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid request body"), "Failed to parse message request")
	}

	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		return c.HandleError(ctx, errors.ValidationError("body is required"), "Failed to parse message request")
	}
	if req.VisitID == nil && req.TeacherID == nil && req.LocationID == nil {
		return c.HandleError(ctx, errors.ValidationError("a visit, teacher or location reference is required"), "Failed to parse message request")
	}

	message := datastore.Message{
		VisitID:    req.VisitID,
		TeacherID:  req.TeacherID,
		LocationID: req.LocationID,
		Body:       req.Body,
	}
	if err := c.DS.CreateMessage(&message); err != nil {
		return c.HandleError(ctx, err, "Failed to store message")
	}

	c.logOperation(ctx, "message created", "message_id", message.ID)
	return ctx.JSON(http.StatusCreated, message)
}

// ListMessages handles GET /api/v1/teachers/:id/messages?page=&limit=.
func (c *Controller) ListMessages(ctx echo.Context) error {
	teacherID, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse teacher id")
	}

	page := queryInt(ctx, "page", 1)
	limit := queryInt(ctx, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, err := c.DS.GetMessagesForTeacher(teacherID, page, limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list messages")
	}
	return ctx.JSON(http.StatusOK, messages)
}

// MarkMessageRead handles POST /api/v1/messages/:id/read.
func (c *Controller) MarkMessageRead(ctx echo.Context) error {
	id, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse message id")
	}

	if err := c.DS.MarkMessageRead(id); err != nil {
		return c.HandleError(ctx, err, "Failed to mark message read")
	}
	return ctx.NoContent(http.StatusNoContent)
}
