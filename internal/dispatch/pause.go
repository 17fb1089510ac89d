package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ShayCichocki/foreman/internal/logging"
)

// ErrStopped is returned by WaitIfPaused once Stop has been called.
var ErrStopped = errors.New("dispatch stopped")

// PauseController holds the pause and stop state of the dispatch loop.
// The zero value is not usable; call NewPauseController.
type PauseController struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
	logger  *slog.Logger
}

// NewPauseController creates a running controller.
func NewPauseController(logger *slog.Logger) *PauseController {
	p := &PauseController{logger: logging.OrDiscard(logger, "dispatch")}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause stops new assignments. Running processes are not affected.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.logger.Info("dispatch paused")
	}
}

// Resume re-enables assignments.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.logger.Info("dispatch resumed")
		p.cond.Broadcast()
	}
}

// Stop unblocks every WaitIfPaused call permanently.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused reports whether dispatch is paused.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsStopped reports whether Stop has been called.
func (p *PauseController) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// WaitIfPaused blocks while paused. It returns ctx.Err() when the context
// ends and ErrStopped after Stop.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused && !p.stopped {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if p.stopped {
		return ErrStopped
	}
	return nil
}
