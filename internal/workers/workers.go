// Package workers provides a detached task primitive with its own error
// boundary. Work submitted here runs independently of the submitting request:
// failures and panics are logged, never rethrown into the caller's path.
package workers

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/klahtinen/deskbell-go/internal/logging"
)

// Group tracks detached tasks so tests and shutdown can await their
// completion deterministically.
type Group struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewGroup creates a task group. A nil logger falls back to the service
// default.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = logging.ForService("workers")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Go runs fn on its own goroutine. The returned error is logged at error
// level and otherwise dropped; a panic is recovered and logged likewise.
func (g *Group) Go(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("detached task panicked",
					"task", name,
					"panic", fmt.Sprintf("%v", r))
			}
		}()

		if err := fn(); err != nil {
			g.logger.Error("detached task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all submitted tasks have finished.
func (g *Group) Wait() {
	g.wg.Wait()
}
