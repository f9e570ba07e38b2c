// Package api exposes the HTTP surface: device actions, presence queries,
// manual status control, visit management and messages. Device-facing
// endpoints mirror the bus actions so a device without a broker connection
// can still operate over HTTP.
package api

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/device"
	"github.com/klahtinen/deskbell-go/internal/errors"
	"github.com/klahtinen/deskbell-go/internal/logging"
	"github.com/klahtinen/deskbell-go/internal/notify"
	"github.com/klahtinen/deskbell-go/internal/presence"
	"github.com/klahtinen/deskbell-go/internal/visit"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	devices  *device.Orchestrator
	resolver *presence.Resolver
	visits   *visit.Service
	notifier *notify.Service

	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New creates the API controller and registers its routes under /api/v1.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings, devices *device.Orchestrator, resolver *presence.Resolver, visits *visit.Service, notifier *notify.Service) *Controller {
	c := &Controller{
		Echo:     e,
		DS:       ds,
		Settings: settings,
		devices:  devices,
		resolver: resolver,
		visits:   visits,
		notifier: notifier,
	}

	if logger, closeFunc, err := logging.NewFileLogger("logs/api.log", "api", slog.LevelInfo); err == nil {
		c.apiLogger = logger
		c.apiLoggerClose = closeFunc
	} else {
		c.apiLogger = logging.ForService("api")
		if c.apiLogger == nil {
			c.apiLogger = slog.Default().With("service", "api")
		}
	}

	c.Group = e.Group("/api/v1")
	c.Group.Use(middleware.Recover())

	c.initRoutes()
	return c
}

// Shutdown closes the controller's log file.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			logging.Error("failed to close API log file", "error", err)
		}
	}
}

func (c *Controller) initRoutes() {
	// Device-facing surface, mirrors the bus actions.
	c.Group.POST("/devices/:id/button", c.ButtonPressed)
	c.Group.POST("/devices/:id/door", c.DoorOpened)
	c.Group.POST("/devices/:id/teacher", c.TeacherSelected)
	c.Group.POST("/devices/:kind/:id/heartbeat", c.Heartbeat)

	// Presence.
	c.Group.GET("/teachers/:id/presence", c.GetPresence)
	c.Group.PUT("/teachers/:id/status", c.SetManualStatus)
	c.Group.DELETE("/teachers/:id/status", c.ClearManualStatus)
	c.Group.GET("/locations/:id/teachers", c.LocationTeachers)

	// Visits.
	c.Group.GET("/visits", c.ListVisits)
	c.Group.GET("/visits/:id", c.GetVisit)
	c.Group.POST("/visits/:id/answer", c.AnswerVisit)

	// Messages.
	c.Group.POST("/messages", c.CreateMessage)
	c.Group.GET("/teachers/:id/messages", c.ListMessages)
	c.Group.POST("/messages/:id/read", c.MarkMessageRead)
}

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

func correlationID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}

// statusForError maps error categories to HTTP status codes. Unknown errors
// stay 500 so internals never leak a misleading client-errored status.
func statusForError(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsConflict(err):
		return http.StatusConflict
	case errors.IsInvalidState(err):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryUnauthorized):
		return http.StatusUnauthorized
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs the failure and writes the error response. The status is
// derived from the error's category unless the caller forces one.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusForError(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: correlationID(),
	}

	c.apiLogger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", err.Error(),
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP(),
	)

	return ctx.JSON(code, resp)
}

// logOperation records a successful mutating request.
func (c *Controller) logOperation(ctx echo.Context, message string, args ...any) {
	args = append(args,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP(),
		"at", time.Now().Format(time.RFC3339),
	)
	c.apiLogger.Info(message, args...)
}
