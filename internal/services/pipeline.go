package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// Pipeline bundles every step over one set of clients. The API server and
// invoicectl use it; each Cloud Function only builds its own step.
type Pipeline struct {
	Store    store.InvoiceImageStore
	Uploads  *UploadFunction
	OCR      *OCRFunction
	Analyzer *AnalyzerFunction
	Status   *StatusFunction
	Batch    *BatchScanner
	Sweeper  *Sweeper

	closers []io.Closer
}

// Clients are the external dependencies a Pipeline is assembled from.
type Clients struct {
	Store    store.InvoiceImageStore
	Objects  ObjectStore
	Detector TextDetector
	Analyzer InvoiceAnalyzer
}

// Assemble builds a Pipeline over already created clients.
func Assemble(cfg config.Config, c Clients) *Pipeline {
	ocr := NewOCR(c.Store, c.Objects, c.Detector, OCRConfig{MaxUploadBytes: cfg.MaxUploadBytes, Retry: cfg.Retry})
	analyzer := NewAnalyzer(c.Store, c.Analyzer, cfg.Retry)
	return &Pipeline{
		Store:    c.Store,
		Uploads:  NewUploads(c.Store, c.Objects, UploadConfigFrom(cfg)),
		OCR:      ocr,
		Analyzer: analyzer,
		Status:   NewStatus(c.Store),
		Batch:    NewBatchScanner(c.Store, ocr, analyzer, cfg.ScanConcurrency),
		Sweeper:  NewSweeper(c.Store, cfg.StaleAfter),
	}
}

// OpenPipeline creates all clients from cfg.
func OpenPipeline(ctx context.Context, cfg config.Config) (*Pipeline, error) {
	if err := cfg.Validate(config.NeedBucket, config.NeedStore, config.NeedGemini); err != nil {
		return nil, err
	}
	var closers []io.Closer
	fail := func(err error) (*Pipeline, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("failed to open store: %w", err))
	}
	closers = append(closers, st)

	objects, err := gcp.NewObjectStore(ctx, cfg.SigningEmail, cfg.SigningPrivateKey)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, objects)

	vision, err := gcp.NewVisionClient(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to create vision client: %w", err))
	}
	closers = append(closers, vision)

	analyzer, err := OpenAnalyzer(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, analyzer)

	p := Assemble(cfg, Clients{Store: st, Objects: objects, Detector: vision, Analyzer: analyzer})
	p.closers = closers
	slog.Info("Pipeline initialized.", "store", cfg.StoreBackend, "geminiBackend", cfg.GeminiBackend, "model", analyzer.Model())
	return p, nil
}

// Close releases the clients in reverse order of creation.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
