package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"golang.org/x/sync/errgroup"
)

// scannable are the statuses a project scan picks up.
var scannable = []models.InvoiceImageStatus{models.StatusUploaded, models.StatusOCRFailed, models.StatusError}

// Scanner is one processing step, OCR or analysis.
type Scanner interface {
	Process(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error)
}

// BatchScanner runs OCR followed by analysis over the pending images of a project.
type BatchScanner struct {
	store       store.InvoiceImageStore
	ocr         Scanner
	analyzer    Scanner
	concurrency int
}

func NewBatchScanner(st store.InvoiceImageStore, ocr, analyzer Scanner, concurrency int) *BatchScanner {
	return &BatchScanner{store: st, ocr: ocr, analyzer: analyzer, concurrency: max(concurrency, 1)}
}

// ScanImage runs both steps for one image. The analysis is skipped when OCR
// ends in a state other than ocr_finished.
func (b *BatchScanner) ScanImage(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error) {
	resp, err := b.ocr.Process(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != models.StatusOCRFinished {
		return resp, nil
	}
	return b.analyzer.Process(ctx, req)
}

// ScanProject scans every pending image of the project. Failures of single
// images are counted and do not stop the others.
func (b *BatchScanner) ScanProject(ctx context.Context, userID, projectID string) (*models.ProjectScanResponse, error) {
	if userID == "" || projectID == "" {
		return nil, invalid("userId and projectId are required")
	}
	images, err := b.store.ListByProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	logCtx := slog.With("userId", userID, "projectId", projectID)
	result := &models.ProjectScanResponse{ProjectID: projectID}
	var mu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for _, img := range images {
		if !scannableStatus(img.Status) {
			continue
		}
		result.Attempted++
		eg.Go(func() error {
			resp, err := b.ScanImage(gctx, &models.ScanRequest{ImageID: img.ID, UserID: userID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil && resp.Status == models.StatusAnalysisFinished {
				result.Succeeded++
				return nil
			}
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, img.ID)
			if err != nil {
				logCtx.Warn("Scan of image failed.", "imageId", img.ID, "error", err)
			}
			// Only cancellation stops the batch.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(result.FailedIDs)
	logCtx.Info("Project scan complete.", "attempted", result.Attempted, "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func scannableStatus(s models.InvoiceImageStatus) bool {
	for _, candidate := range scannable {
		if s == candidate {
			return true
		}
	}
	return false
}
