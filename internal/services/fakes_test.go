package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/retry"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond}

type fakeObjects struct {
	mu       sync.Mutex
	data     map[string][]byte
	failures map[string]int // transient read failures before success
	reads    map[string]int
	deleted  []string
	signErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		data:     make(map[string][]byte),
		failures: make(map[string]int),
		reads:    make(map[string]int),
	}
}

func (o *fakeObjects) put(bucket, name string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data[bucket+"/"+name] = data
}

func (o *fakeObjects) ReadObject(_ context.Context, bucket, name string, maxBytes int64) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := bucket + "/" + name
	o.reads[key]++
	if o.failures[key] > 0 {
		o.failures[key]--
		return nil, fmt.Errorf("transient read error")
	}
	b, ok := o.data[key]
	if !ok {
		return nil, fmt.Errorf("gs://%s: %w", key, gcp.ErrObjectNotFound)
	}
	if maxBytes > 0 && int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("gs://%s: %w", key, gcp.ErrObjectTooLarge)
	}
	return b, nil
}

func (o *fakeObjects) DeleteObject(_ context.Context, bucket, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.data, bucket+"/"+name)
	o.deleted = append(o.deleted, bucket+"/"+name)
	return nil
}

func (o *fakeObjects) SignedURL(bucket, name, method, contentType string, expires time.Time) (string, error) {
	if o.signErr != nil {
		return "", o.signErr
	}
	return fmt.Sprintf("https://storage.example/%s/%s?method=%s&ct=%s&exp=%d", bucket, name, method, contentType, expires.Unix()), nil
}

type fakeDetector struct {
	mu        sync.Mutex
	text      string
	err       error
	calls     int
	pdfCalls  int
	pdfPages  int
	lastBytes []byte
}

func (d *fakeDetector) DetectText(_ context.Context, content []byte) (*models.OCRResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastBytes = content
	if d.err != nil {
		return nil, d.err
	}
	return &models.OCRResult{Text: d.text, Language: "de", PageCount: 1, BlockCount: 3, CompletedAt: time.Now().UTC()}, nil
}

func (d *fakeDetector) DetectDocumentText(_ context.Context, pdf []byte, pages int) (*models.OCRResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pdfCalls++
	d.pdfPages = pages
	d.lastBytes = pdf
	if d.err != nil {
		return nil, d.err
	}
	return &models.OCRResult{Text: d.text, PageCount: pages, CompletedAt: time.Now().UTC()}, nil
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++
	a.prompts = append(a.prompts, text)
	if i < len(a.errs) && a.errs[i] != nil {
		return "", a.errs[i]
	}
	if len(a.replies) == 0 {
		return "", nil
	}
	return a.replies[min(i, len(a.replies)-1)], nil
}

func (a *fakeAnalyzer) Model() string { return "gemini-test" }

type fakeWorkflow struct {
	mu   sync.Mutex
	args []any
	err  error
}

func (w *fakeWorkflow) Start(_ context.Context, argument any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.args = append(w.args, argument)
	return fmt.Sprintf("executions/%d", len(w.args)), nil
}

const testBucket = "invoices-bucket"

// seedImage stores an image in the given status by walking the transition table.
func seedImage(t *testing.T, st store.InvoiceImageStore, id, user, project, contentType string, path ...models.InvoiceImageStatus) *models.InvoiceImage {
	t.Helper()
	ctx := context.Background()
	img := &models.InvoiceImage{
		ID:          id,
		UserID:      user,
		ProjectID:   project,
		Bucket:      testBucket,
		StoragePath: ObjectName(user, project, id, contentType),
		ContentType: contentType,
		Status:      models.StatusUploaded,
	}
	created, err := st.Create(ctx, img)
	require.NoError(t, err)
	require.True(t, created)
	for _, s := range path {
		img, err = st.Transition(ctx, id, s, models.StatusPatch{})
		require.NoError(t, err)
	}
	return img
}
