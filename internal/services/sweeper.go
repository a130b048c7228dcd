package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/robfig/cron/v3"
)

const timedOutMessage = "processing timed out"

// Sweeper fails images left in a *_in_progress status, e.g. by a function
// instance that was killed mid-request.
type Sweeper struct {
	store      store.InvoiceImageStore
	staleAfter time.Duration
	now        func() time.Time
}

func NewSweeper(st store.InvoiceImageStore, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      st,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep moves every image whose status has not changed for staleAfter to its
// failure status and returns how many were moved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stuck, err := s.store.ListByStatus(ctx, []models.InvoiceImageStatus{models.StatusOCRInProgress, models.StatusAnalysisInProgress}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck images: %w", err)
	}

	moved := 0
	for _, img := range stuck {
		failure, ok := img.Status.FailureFor()
		if !ok {
			continue
		}
		// The precondition keeps a run that restarted after the listing alive.
		_, err := s.store.Transition(ctx, img.ID, failure, models.StatusPatch{
			ErrorMessage:      timedOutMessage,
			IfStatusChangedAt: img.StatusChangedAt,
		})
		var terr *models.TransitionError
		switch {
		case err == nil:
			moved++
			slog.Warn("Marked stuck image as failed.", "imageId", img.ID, "from", img.Status, "to", failure, "statusChangedAt", img.StatusChangedAt)
		case errors.As(err, &terr), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrStatusChanged):
			// Finished, restarted or deleted since it was listed.
			slog.Debug("Stuck image moved on before the sweep.", "imageId", img.ID, "error", err)
		default:
			return moved, fmt.Errorf("failed to fail stuck image %s: %w", img.ID, err)
		}
	}
	return moved, nil
}

// Start runs Sweep on the cron schedule until ctx is done. The returned stop
// function waits for a running sweep to finish.
func (s *Sweeper) Start(ctx context.Context, schedule string) (stop func(), err error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	_, err = c.AddFunc(schedule, func() {
		n, err := s.Sweep(ctx)
		if err != nil {
			slog.Error("Sweep failed.", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Sweep complete.", "failed", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	slog.Info("Sweeper started.", "schedule", schedule, "staleAfter", s.staleAfter.String())
	return func() { <-c.Stop().Done() }, nil
}
