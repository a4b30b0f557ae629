// Package summary computes the homepage forecast once in the background and
// publishes it through a write-once slot readers poll without blocking.
package summary

import (
	"context"
	"log/slog"
	"sync"

	"github.com/civicworks/complaint-forecast/internal/models"
)

// State is the lifecycle of the homepage summary computation. Pending is a
// valid, renderable state, not an error.
type State string

const (
	Pending State = "pending"
	Ready   State = "ready"
	Failed  State = "failed"
)

// ForecastFunc produces the summary forecast. Run once per process.
type ForecastFunc func(ctx context.Context) (models.ForecastResult, error)

// Slot is a single-value future. It is written exactly once by the background
// computation; later writes are ignored.
type Slot struct {
	mu     sync.Mutex
	state  State
	result models.ForecastResult
	err    error
}

// NewSlot returns a Slot in the Pending state.
func NewSlot() *Slot {
	return &Slot{state: Pending}
}

// Poll returns the current state without blocking. The result is only
// meaningful in the Ready state, the error only in Failed.
func (s *Slot) Poll() (State, models.ForecastResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.result, s.err
}

func (s *Slot) ready(result models.ForecastResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Pending {
		return
	}
	s.state = Ready
	s.result = result
}

func (s *Slot) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Pending {
		return
	}
	s.state = Failed
	s.err = err
}

// Start launches the one-shot background computation and returns the slot it
// will publish into. The goroutine runs to completion or failure once and is
// never restarted.
func Start(ctx context.Context, compute ForecastFunc, logger *slog.Logger) *Slot {
	if logger == nil {
		logger = slog.Default()
	}
	slot := NewSlot()
	go func() {
		result, err := compute(ctx)
		if err != nil {
			logger.Warn("homepage summary forecast failed", "error", err)
			slot.fail(err)
			return
		}
		slot.ready(result)
	}()
	return slot
}
