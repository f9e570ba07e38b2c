package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/errors"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// answerRequest identifies who took the visit.
type answerRequest struct {
	TeacherID uint `json:"teacherId"`
}

// ListVisits handles GET /api/v1/visits?status=&page=&limit=.
func (c *Controller) ListVisits(ctx echo.Context) error {
	status := datastore.VisitStatus(ctx.QueryParam("status"))
	if status == "" {
		status = datastore.VisitPending
	}
	if !status.Valid() {
		return c.HandleError(ctx, errors.ValidationError("invalid status: "+string(status)), "Failed to parse visit filter")
	}

	page := queryInt(ctx, "page", 1)
	limit := queryInt(ctx, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	visits, err := c.DS.GetVisitsByStatus(status, page, limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list visits")
	}
	return ctx.JSON(http.StatusOK, visits)
}

// GetVisit handles GET /api/v1/visits/:id.
func (c *Controller) GetVisit(ctx echo.Context) error {
	id, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse visit id")
	}

	found, err := c.DS.GetVisit(id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load visit")
	}
	return ctx.JSON(http.StatusOK, found)
}

// AnswerVisit handles POST /api/v1/visits/:id/answer. Answering a resolved
// visit is a conflict, not an overwrite.
func (c *Controller) AnswerVisit(ctx echo.Context) error {
	id, err := paramUint(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to parse visit id")
	}

	var req answerRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid request body"), "Failed to parse answer request")
	}
	if req.TeacherID == 0 {
		return c.HandleError(ctx, errors.ValidationError("teacherId is required"), "Failed to parse answer request")
	}

	answered, err := c.visits.Answer(id, req.TeacherID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to answer visit")
	}

	c.logOperation(ctx, "visit answered", "visit_id", id, "teacher_id", req.TeacherID)
	return ctx.JSON(http.StatusOK, answered)
}

func queryInt(ctx echo.Context, name string, fallback int) int {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
