// Package store persists InvoiceImage records. Every status change goes
// through Transition, which validates it against the transition table and
// writes the record in one atomic step.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("invoice image not found")

// ErrStatusChanged is returned by Transition when patch.IfStatusChangedAt no
// longer matches the stored record.
var ErrStatusChanged = errors.New("invoice image status changed concurrently")

// InvoiceImageStore is implemented by the Firestore, Postgres and memory backends.
type InvoiceImageStore interface {
	// Create inserts img unless a record with the same id exists. created is
	// false and img is left untouched when the record was already there.
	Create(ctx context.Context, img *models.InvoiceImage) (created bool, err error)
	Get(ctx context.Context, id string) (*models.InvoiceImage, error)
	ListByProject(ctx context.Context, userID, projectID string) ([]*models.InvoiceImage, error)
	// ListByStatus returns records in any of statuses whose status last
	// changed before changedBefore. A zero changedBefore matches all.
	ListByStatus(ctx context.Context, statuses []models.InvoiceImageStatus, changedBefore time.Time) ([]*models.InvoiceImage, error)
	// Transition moves the record to status to and applies patch. It returns
	// a *models.TransitionError when the current status does not allow it.
	Transition(ctx context.Context, id string, to models.InvoiceImageStatus, patch models.StatusPatch) (*models.InvoiceImage, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// applyTransition is shared by all backends once they hold the current record.
func applyTransition(img *models.InvoiceImage, to models.InvoiceImageStatus, patch models.StatusPatch, now time.Time) error {
	if !patch.IfStatusChangedAt.IsZero() && !img.StatusChangedAt.Equal(patch.IfStatusChangedAt) {
		return ErrStatusChanged
	}
	if err := models.ValidateTransition(img.Status, to); err != nil {
		return err
	}
	img.Status = to
	img.ErrorMessage = patch.ErrorMessage
	// A fresh run drops results derived from the previous one.
	switch to {
	case models.StatusOCRInProgress:
		img.OCR = nil
		img.Analysis = nil
	case models.StatusAnalysisInProgress:
		img.Analysis = nil
	}
	if patch.OCR != nil {
		img.OCR = patch.OCR
	}
	if patch.Analysis != nil {
		img.Analysis = patch.Analysis
	}
	img.UpdatedAt = now
	img.StatusChangedAt = now
	return nil
}

func inStatuses(s models.InvoiceImageStatus, statuses []models.InvoiceImageStatus) bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}
