package gcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// MaxSyncPDFPages is the most pages Vision annotates in one synchronous file request.
const MaxSyncPDFPages = 5

// VisionClient runs Cloud Vision text detection on invoice images and PDFs.
type VisionClient struct {
	client *vision.ImageAnnotatorClient
}

func NewVisionClient(ctx context.Context) (*VisionClient, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision.NewImageAnnotatorClient: %w", err)
	}
	return &VisionClient{client: client}, nil
}

func (c *VisionClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// DetectText runs TEXT_DETECTION on an image held in memory.
func (c *VisionClient) DetectText(ctx context.Context, content []byte) (*models.OCRResult, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}},
		}},
	}
	resp, err := c.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision text detection failed: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("vision returned no responses")
	}
	return ShapeImageResponse(resp.GetResponses()[0])
}

// DetectDocumentText runs DOCUMENT_TEXT_DETECTION over the first pages of a PDF.
func (c *VisionClient) DetectDocumentText(ctx context.Context, pdf []byte, pages int) (*models.OCRResult, error) {
	if pages < 1 || pages > MaxSyncPDFPages {
		return nil, fmt.Errorf("pdf has %d pages, between 1 and %d are supported", pages, MaxSyncPDFPages)
	}
	pageNumbers := make([]int32, pages)
	for i := range pageNumbers {
		pageNumbers[i] = int32(i + 1)
	}
	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{Content: pdf, MimeType: "application/pdf"},
			Features:    []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			Pages:       pageNumbers,
		}},
	}
	resp, err := c.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision document text detection failed: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("vision returned no file responses")
	}
	return ShapeFileResponse(resp.GetResponses()[0])
}

// ShapeImageResponse reduces a Vision image response to the fields stored on the invoice.
func ShapeImageResponse(resp *visionpb.AnnotateImageResponse) (*models.OCRResult, error) {
	if msg := resp.GetError().GetMessage(); msg != "" {
		return nil, fmt.Errorf("vision error: %s", msg)
	}

	text := resp.GetFullTextAnnotation().GetText()
	language := ""
	if annotations := resp.GetTextAnnotations(); len(annotations) > 0 {
		// The first annotation spans the whole image.
		if text == "" {
			text = annotations[0].GetDescription()
		}
		language = annotations[0].GetLocale()
	}

	pages := resp.GetFullTextAnnotation().GetPages()
	blocks := 0
	for _, page := range pages {
		blocks += len(page.GetBlocks())
		if language == "" {
			language = pageLanguage(page)
		}
	}

	return &models.OCRResult{
		Text:        CleanOCRText(text),
		Language:    language,
		PageCount:   max(len(pages), 1),
		BlockCount:  blocks,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// ShapeFileResponse merges the per-page responses of a PDF annotation.
func ShapeFileResponse(resp *visionpb.AnnotateFileResponse) (*models.OCRResult, error) {
	if msg := resp.GetError().GetMessage(); msg != "" {
		return nil, fmt.Errorf("vision error: %s", msg)
	}

	var (
		texts    []string
		language string
		blocks   int
	)
	for i, page := range resp.GetResponses() {
		shaped, err := ShapeImageResponse(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		if shaped.Text != "" {
			texts = append(texts, shaped.Text)
		}
		if language == "" {
			language = shaped.Language
		}
		blocks += shaped.BlockCount
	}

	return &models.OCRResult{
		Text:        strings.Join(texts, "\n\n"),
		Language:    language,
		PageCount:   len(resp.GetResponses()),
		BlockCount:  blocks,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func pageLanguage(page *visionpb.Page) string {
	best := ""
	var bestConfidence float32 = -1
	for _, lang := range page.GetProperty().GetDetectedLanguages() {
		if lang.GetConfidence() > bestConfidence {
			best, bestConfidence = lang.GetLanguageCode(), lang.GetConfidence()
		}
	}
	return best
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// CleanOCRText normalises line endings, strips trailing spaces and collapses
// runs of blank lines.
func CleanOCRText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
