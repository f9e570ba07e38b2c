// Package server wires the services together and owns their lifecycle: open
// the datastore, connect the bus, start the calendar sync and sweeps, serve
// HTTP, and tear it all down again in reverse on shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/klahtinen/deskbell-go/internal/api"
	"github.com/klahtinen/deskbell-go/internal/calendar"
	"github.com/klahtinen/deskbell-go/internal/conf"
	"github.com/klahtinen/deskbell-go/internal/datastore"
	"github.com/klahtinen/deskbell-go/internal/device"
	"github.com/klahtinen/deskbell-go/internal/logging"
	"github.com/klahtinen/deskbell-go/internal/mqtt"
	"github.com/klahtinen/deskbell-go/internal/notify"
	"github.com/klahtinen/deskbell-go/internal/presence"
	"github.com/klahtinen/deskbell-go/internal/scheduler"
	"github.com/klahtinen/deskbell-go/internal/visit"
)

const shutdownTimeout = 10 * time.Second

// Run starts every configured service and blocks until SIGINT or SIGTERM.
func Run(settings *conf.Settings) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer closeDatastore(ds)

	var bus mqtt.Client
	if settings.MQTT.Enabled {
		bus = mqtt.NewClient(settings)
		if err := bus.Connect(ctx); err != nil {
			// The client reconnects on its own; startup continues.
			logging.Warn("initial broker connection failed, retrying in background",
				"broker", settings.MQTT.Broker, "error", err)
		}
		defer bus.Disconnect()
	}

	cal, err := calendar.New(ctx, settings, ds)
	if err != nil {
		return fmt.Errorf("initializing calendar sync: %w", err)
	}

	resolver := presence.NewResolver(ds, cal)
	visits := visit.NewService(ds, settings)
	notifier := notify.NewService(ds, bus, settings)
	visits.SetMissedNotifier(notifier)

	devices := device.NewOrchestrator(ds, visits, resolver, notifier, cal)
	defer devices.Wait()

	if bus != nil {
		dispatcher := device.NewDispatcher(bus, devices, settings.MQTT.Namespace)
		if err := dispatcher.Subscribe(); err != nil {
			return fmt.Errorf("subscribing to device topics: %w", err)
		}
	}

	cal.Start(ctx)
	defer cal.Stop()

	sweeps := scheduler.New(settings, ds, visits, resolver, notifier, devices, cal)
	sweeps.Start(ctx)
	defer sweeps.Stop()

	var e *echo.Echo
	var controller *api.Controller
	if settings.WebServer.Enabled {
		e = echo.New()
		e.HideBanner = true
		e.Use(middleware.Recover())
		if settings.WebServer.Log.Enabled {
			e.Use(middleware.Logger())
		}

		controller = api.New(e, ds, settings, devices, resolver, visits, notifier)

		go func() {
			addr := fmt.Sprintf(":%s", settings.WebServer.Port)
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("web server stopped", "error", err)
				cancel()
			}
		}()
		logging.Info("web server listening", "port", settings.WebServer.Port)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logging.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if e != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logging.Error("web server shutdown failed", "error", err)
		}
		controller.Shutdown()
	}

	return nil
}

func closeDatastore(ds datastore.Interface) {
	if err := ds.Close(); err != nil {
		logging.Error("failed to close datastore", "error", err)
	}
}
