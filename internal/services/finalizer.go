package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// GCSEvent is the payload of a storage object finalized CloudEvent. Size is
// a decimal string in the storage JSON API.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

// FinalizerFunction reacts to finished uploads in the invoice bucket. It
// registers uploads the client never registered, rejects broken PDFs and
// optionally hands the image to the auto-scan workflow.
type FinalizerFunction struct {
	uploads  *UploadFunction
	store    store.InvoiceImageStore
	objects  ObjectStore
	workflow WorkflowStarter
	pdfPages func(data []byte) (int, error)
	config   UploadConfig
}

// NewFinalizer wires the function. workflow may be nil to disable auto-scan.
func NewFinalizer(st store.InvoiceImageStore, objects ObjectStore, workflow WorkflowStarter, cfg UploadConfig) *FinalizerFunction {
	return &FinalizerFunction{
		uploads:  NewUploads(st, objects, cfg),
		store:    st,
		objects:  objects,
		workflow: workflow,
		pdfPages: InspectPDF,
		config:   cfg,
	}
}

func NewFinalizerFunction(ctx context.Context) (*FinalizerFunction, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(config.NeedBucket, config.NeedStore); err != nil {
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

	var workflow WorkflowStarter
	if cfg.AutoScanWorkflowID != "" {
		launcher, err := gcp.NewWorkflowLauncher(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.AutoScanWorkflowID)
		if err != nil {
			return nil, err
		}
		workflow = launcher
	}
	slog.Info("Upload finalizer logic initialized.", "bucket", cfg.InvoiceBucket, "autoScanWorkflowId", cfg.AutoScanWorkflowID)
	return NewFinalizer(st, objects, workflow, UploadConfigFrom(cfg)), nil
}

func (f *FinalizerFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if f.config.Bucket != "" && e.Bucket != f.config.Bucket {
		logCtx.Warn("Object is not in the invoice bucket. Skipping.")
		return nil
	}
	userID, projectID, imageID, ok := ParseObjectName(e.Name)
	if !ok {
		logCtx.Info("Object is not an invoice upload. Skipping.")
		return nil
	}
	logCtx = logCtx.With("imageId", imageID)

	contentType := normalizeContentType(e.ContentType)
	if _, ok := contentTypeExt[contentType]; !ok {
		contentType = ContentTypeFor(e.Name)
	}
	size, _ := strconv.ParseInt(e.Size, 10, 64)

	img, err := f.uploads.RegisterUpload(ctx, &models.RegisterUploadRequest{
		ImageID:     imageID,
		UserID:      userID,
		ProjectID:   projectID,
		StoragePath: e.Name,
		ContentType: contentType,
		SizeBytes:   size,
	})
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrForbidden) {
		// Redelivering the event cannot fix these.
		logCtx.Error("Rejected uploaded object.", "error", err)
		return nil
	}
	if err != nil {
		logCtx.Error("Failed to register upload", "error", err)
		return err
	}
	if img.Status != models.StatusUploaded {
		logCtx.Info("Image already past upload. Nothing to do.", "status", img.Status)
		return nil
	}

	if img.IsPDF() {
		data, err := f.objects.ReadObject(ctx, img.Bucket, img.StoragePath, f.config.MaxUploadBytes)
		if errors.Is(err, gcp.ErrObjectTooLarge) {
			return f.handleError(ctx, logCtx, img.ID, "rejected PDF upload", err)
		}
		if err != nil {
			logCtx.Error("Failed to download uploaded PDF", "error", err)
			return err
		}
		if err := f.checkPDF(data); err != nil {
			return f.handleError(ctx, logCtx, img.ID, "rejected PDF upload", err)
		}
	}

	if f.workflow == nil {
		return nil
	}
	execution, err := f.workflow.Start(ctx, models.AutoScanArgument{ImageID: img.ID, UserID: img.UserID})
	if err != nil {
		logCtx.Error("Failed to trigger auto-scan workflow", "error", err)
		return err
	}
	logCtx.Info("Hand-off to auto-scan workflow complete.", "execution", execution)
	return nil
}

func (f *FinalizerFunction) checkPDF(data []byte) error {
	pages, err := f.pdfPages(data)
	if err != nil {
		return err
	}
	if pages > gcp.MaxSyncPDFPages {
		return fmt.Errorf("pdf has %d pages, at most %d are supported", pages, gcp.MaxSyncPDFPages)
	}
	return nil
}

// handleError moves the image to error and reports the event as handled, so
// the broken upload is not redelivered.
func (f *FinalizerFunction) handleError(ctx context.Context, logCtx *slog.Logger, imageID, message string, originalErr error) error {
	_ = recordFailure(ctx, logCtx, f.store, imageID, models.StatusError, message, originalErr)
	return nil
}
