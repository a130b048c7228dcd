package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/retry"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const noTextDetected = "no text detected"

func init() {
	// Cloud Functions only allow writes under /tmp; pdfcpu must not create its config dir.
	api.DisableConfigDir()
}

// OCRConfig holds the settings the OCR step needs.
type OCRConfig struct {
	MaxUploadBytes int64
	Retry          retry.Policy
}

// OCRFunction runs Vision text detection on one invoice image.
type OCRFunction struct {
	store    store.InvoiceImageStore
	objects  ObjectStore
	detector TextDetector
	pdfPages func(data []byte) (int, error)
	config   OCRConfig
}

// NewOCR wires the step from already created clients.
func NewOCR(st store.InvoiceImageStore, objects ObjectStore, detector TextDetector, cfg OCRConfig) *OCRFunction {
	return &OCRFunction{
		store:    st,
		objects:  objects,
		detector: detector,
		pdfPages: InspectPDF,
		config:   cfg,
	}
}

// NewOCRFunction loads the configuration from the environment and creates
// the store, storage and Vision clients.
func NewOCRFunction(ctx context.Context) (*OCRFunction, error) {
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
	objects, err := gcp.NewObjectStore(ctx, cfg.SigningEmail, cfg.SigningPrivateKey)
	if err != nil {
		return nil, err
	}
	detector, err := gcp.NewVisionClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	slog.Info("OCR logic initialized.", "store", cfg.StoreBackend)
	return NewOCR(st, objects, detector, OCRConfig{MaxUploadBytes: cfg.MaxUploadBytes, Retry: cfg.Retry}), nil
}

// Process moves the image through ocr_in_progress to ocr_finished, or to
// ocr_failed when recognition fails or finds no text. A run that found no text
// is recorded and returned without an error.
func (f *OCRFunction) Process(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error) {
	logCtx := slog.With("imageId", req.ImageID, "executionId", req.ExecutionID)
	logCtx.Info("Starting OCR.")

	img, err := loadOwned(ctx, f.store, req.ImageID, req.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := f.store.Transition(ctx, img.ID, models.StatusOCRInProgress, models.StatusPatch{}); err != nil {
		logCtx.Warn("Cannot start OCR.", "status", img.Status, "error", err)
		return nil, err
	}

	result, err := f.recognize(ctx, logCtx, img)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, img.ID, "OCR failed", err)
	}

	if result.Text == "" {
		logCtx.Warn("Vision found no text.")
		updated, err := f.store.Transition(ctx, img.ID, models.StatusOCRFailed, models.StatusPatch{ErrorMessage: noTextDetected})
		if err != nil {
			return nil, fmt.Errorf("failed to record empty OCR result: %w", err)
		}
		return &models.ScanResponse{ImageID: img.ID, Status: updated.Status, Image: updated}, nil
	}

	updated, err := f.store.Transition(ctx, img.ID, models.StatusOCRFinished, models.StatusPatch{OCR: result})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, img.ID, "failed to store OCR result", err)
	}
	logCtx.Info("OCR complete.", "pages", result.PageCount, "blocks", result.BlockCount, "language", result.Language, "chars", len(result.Text))
	return &models.ScanResponse{ImageID: img.ID, Status: updated.Status, Image: updated}, nil
}

func (f *OCRFunction) recognize(ctx context.Context, logCtx *slog.Logger, img *models.InvoiceImage) (*models.OCRResult, error) {
	data, err := f.download(ctx, img)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Downloaded invoice file.", "bytes", len(data), "contentType", img.ContentType)

	if !img.IsPDF() {
		return f.detector.DetectText(ctx, data)
	}

	pages, err := f.pdfPages(data)
	if err != nil {
		return nil, err
	}
	if pages > gcp.MaxSyncPDFPages {
		return nil, fmt.Errorf("pdf has %d pages, at most %d are supported", pages, gcp.MaxSyncPDFPages)
	}
	return f.detector.DetectDocumentText(ctx, data, pages)
}

func (f *OCRFunction) download(ctx context.Context, img *models.InvoiceImage) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, f.config.Retry, "download gs://"+img.Bucket+"/"+img.StoragePath, func(ctx context.Context) error {
		b, err := f.objects.ReadObject(ctx, img.Bucket, img.StoragePath, f.config.MaxUploadBytes)
		if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrObjectTooLarge) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	return data, err
}

// handleError records the failure on the image before returning it.
func (f *OCRFunction) handleError(ctx context.Context, logCtx *slog.Logger, imageID, message string, originalErr error) error {
	return recordFailure(ctx, logCtx, f.store, imageID, models.StatusOCRFailed, message, originalErr)
}

func recordFailure(ctx context.Context, logCtx *slog.Logger, st store.InvoiceImageStore, imageID string, status models.InvoiceImageStatus, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	// The request context may already be cancelled; the failure must still be written.
	if _, err := st.Transition(context.WithoutCancel(ctx), imageID, status, models.StatusPatch{ErrorMessage: fullError}); err != nil {
		logCtx.Error("CRITICAL: Failed to record failure status after a processing error.", "status", status, "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// InspectPDF validates a PDF with pdfcpu and returns its page count.
func InspectPDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if pages < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}
