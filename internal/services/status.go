package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// StatusFunction applies manual status changes requested by clients.
type StatusFunction struct {
	store store.InvoiceImageStore
}

func NewStatus(st store.InvoiceImageStore) *StatusFunction {
	return &StatusFunction{store: st}
}

func NewStatusFunction(ctx context.Context) (*StatusFunction, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(config.NeedStore); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	slog.Info("Status logic initialized.", "store", cfg.StoreBackend)
	return NewStatus(st), nil
}

// UpdateStatus moves the image to the requested status if the transition
// table allows it.
func (f *StatusFunction) UpdateStatus(ctx context.Context, req *models.StatusUpdateRequest) (*models.InvoiceImage, error) {
	to, err := models.ParseStatus(req.Status)
	if err != nil {
		return nil, invalid("%v", err)
	}
	img, err := loadOwned(ctx, f.store, req.ImageID, req.UserID)
	if err != nil {
		return nil, err
	}
	updated, err := f.store.Transition(ctx, img.ID, to, models.StatusPatch{ErrorMessage: req.ErrorMessage})
	if err != nil {
		return nil, err
	}
	slog.Info("Status updated.", "imageId", img.ID, "from", img.Status, "to", to)
	return updated, nil
}

// AllowedTransitions lists the statuses the image may move to next.
func (f *StatusFunction) AllowedTransitions(ctx context.Context, imageID, userID string) (*models.TransitionsResponse, error) {
	img, err := loadOwned(ctx, f.store, imageID, userID)
	if err != nil {
		return nil, err
	}
	return &models.TransitionsResponse{
		ImageID: img.ID,
		Status:  img.Status,
		Allowed: models.AllowedTransitions(img.Status),
	}, nil
}
