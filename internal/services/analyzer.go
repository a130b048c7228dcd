package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/retry"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// AnalyzerFunction sends the OCR text of an image to Gemini and stores the
// extracted invoice fields.
type AnalyzerFunction struct {
	store    store.InvoiceImageStore
	analyzer InvoiceAnalyzer
	retry    retry.Policy
	now      func() time.Time
}

func NewAnalyzer(st store.InvoiceImageStore, analyzer InvoiceAnalyzer, policy retry.Policy) *AnalyzerFunction {
	return &AnalyzerFunction{
		store:    st,
		analyzer: analyzer,
		retry:    policy,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewAnalyzerFunction loads the configuration from the environment and
// creates the store and the Gemini client.
func NewAnalyzerFunction(ctx context.Context) (*AnalyzerFunction, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(config.NeedStore, config.NeedGemini); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	analyzer, err := OpenAnalyzer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Analyzer logic initialized.", "geminiBackend", cfg.GeminiBackend, "model", analyzer.Model())
	return NewAnalyzer(st, analyzer, cfg.Retry), nil
}

// AnalyzerClient is an InvoiceAnalyzer that owns network resources.
type AnalyzerClient interface {
	InvoiceAnalyzer
	io.Closer
}

// OpenAnalyzer returns the Gemini client selected by cfg.GeminiBackend.
func OpenAnalyzer(ctx context.Context, cfg config.Config) (AnalyzerClient, error) {
	switch cfg.GeminiBackend {
	case config.GeminiVertex:
		c, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		return c, nil
	case config.GeminiAPI:
		c, err := gcp.NewGeminiAPIClient(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini api client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unsupported GEMINI_BACKEND %q", cfg.GeminiBackend)
}

// Process moves the image through analysis_in_progress to analysis_finished,
// or to analysis_failed when Gemini fails or its reply cannot be used.
func (f *AnalyzerFunction) Process(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error) {
	logCtx := slog.With("imageId", req.ImageID, "executionId", req.ExecutionID)
	logCtx.Info("Starting invoice analysis.")

	img, err := loadOwned(ctx, f.store, req.ImageID, req.UserID)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(img.OCRText())
	if text == "" {
		return nil, fmt.Errorf("invoice image %s: %w", img.ID, ErrNoOCRText)
	}
	if _, err := f.store.Transition(ctx, img.ID, models.StatusAnalysisInProgress, models.StatusPatch{}); err != nil {
		logCtx.Warn("Cannot start analysis.", "status", img.Status, "error", err)
		return nil, err
	}

	var reply string
	err = retry.Do(ctx, f.retry, "gemini analysis", func(ctx context.Context) error {
		r, err := f.analyzer.Analyze(ctx, text)
		if gcp.IsPermanentGeminiError(err) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("gemini returned an empty response")
		}
		reply = r
		return nil
	})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, img.ID, "Gemini analysis failed", err)
	}

	analysis, err := ParseAnalysis(reply)
	if err != nil {
		logCtx.Error("Unusable Gemini reply.", "responseBody", reply)
		return nil, f.handleError(ctx, logCtx, img.ID, "failed to parse Gemini reply", err)
	}
	analysis.Model = f.analyzer.Model()
	analysis.RawResponse = reply
	analysis.AnalyzedAt = f.now()

	updated, err := f.store.Transition(ctx, img.ID, models.StatusAnalysisFinished, models.StatusPatch{Analysis: analysis})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, img.ID, "failed to store analysis", err)
	}
	logCtx.Info("Invoice analysis complete.", "merchant", analysis.Merchant, "currency", analysis.Currency, "category", analysis.Category)
	return &models.ScanResponse{ImageID: img.ID, Status: updated.Status, Image: updated}, nil
}

func (f *AnalyzerFunction) handleError(ctx context.Context, logCtx *slog.Logger, imageID, message string, originalErr error) error {
	return recordFailure(ctx, logCtx, f.store, imageID, models.StatusAnalysisFailed, message, originalErr)
}
