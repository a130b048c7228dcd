// Package services holds the invoice processing steps. Each step is a
// *Function with a Process method, shared by the Cloud Functions in cmd/ and
// by the API server.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

var (
	// ErrInvalidRequest wraps every validation failure of an incoming request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrForbidden is returned when the image belongs to another user.
	ErrForbidden = errors.New("invoice image belongs to another user")
	// ErrNoOCRText is returned when analysis is requested before OCR produced text.
	ErrNoOCRText = errors.New("invoice image has no OCR text")
)

// TextDetector is implemented by gcp.VisionClient.
type TextDetector interface {
	DetectText(ctx context.Context, content []byte) (*models.OCRResult, error)
	DetectDocumentText(ctx context.Context, pdf []byte, pages int) (*models.OCRResult, error)
}

// InvoiceAnalyzer is implemented by gcp.VertexClient and gcp.GeminiAPIClient.
type InvoiceAnalyzer interface {
	Analyze(ctx context.Context, ocrText string) (string, error)
	Model() string
}

// ObjectStore is the subset of gcp.ObjectStore the services use.
type ObjectStore interface {
	ReadObject(ctx context.Context, bucket, name string, maxBytes int64) ([]byte, error)
	DeleteObject(ctx context.Context, bucket, name string) error
	SignedURL(bucket, name, method, contentType string, expires time.Time) (string, error)
}

// WorkflowStarter is implemented by gcp.WorkflowLauncher.
type WorkflowStarter interface {
	Start(ctx context.Context, argument any) (string, error)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// loadOwned fetches the image and checks it belongs to userID.
func loadOwned(ctx context.Context, st store.InvoiceImageStore, imageID, userID string) (*models.InvoiceImage, error) {
	if imageID == "" {
		return nil, invalid("imageId is required")
	}
	if userID == "" {
		return nil, invalid("userId is required")
	}
	img, err := st.Get(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("load invoice image %s: %w", imageID, err)
	}
	if img.UserID != userID {
		return nil, fmt.Errorf("invoice image %s: %w", imageID, ErrForbidden)
	}
	return img, nil
}
