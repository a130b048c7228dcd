package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/retry"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testSecret = "test-secret"
	testBucket = "invoices-bucket"
	goodReply  = `{"totalAmount": "1.234,50", "currency": "€", "invoiceDate": "18.03.2024", "merchant": "Hotel Alpenblick", "category": "Hotel"}`
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (o *memObjects) ReadObject(_ context.Context, bucket, name string, _ int64) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.data[bucket+"/"+name]
	if !ok {
		return nil, gcp.ErrObjectNotFound
	}
	return b, nil
}

func (o *memObjects) DeleteObject(_ context.Context, bucket, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.data, bucket+"/"+name)
	return nil
}

func (o *memObjects) SignedURL(bucket, name, method, _ string, _ time.Time) (string, error) {
	return fmt.Sprintf("https://storage.example/%s/%s?method=%s", bucket, name, method), nil
}

type staticDetector string

func (d staticDetector) DetectText(context.Context, []byte) (*models.OCRResult, error) {
	return &models.OCRResult{Text: string(d), PageCount: 1}, nil
}

func (d staticDetector) DetectDocumentText(_ context.Context, _ []byte, pages int) (*models.OCRResult, error) {
	return &models.OCRResult{Text: string(d), PageCount: pages}, nil
}

type staticAnalyzer string

func (a staticAnalyzer) Analyze(context.Context, string) (string, error) { return string(a), nil }
func (a staticAnalyzer) Model() string                                   { return "gemini-test" }

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	objects *memObjects
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.InvoiceBucket = testBucket
	cfg.Retry = retry.Policy{MaxRetries: 1, InitialBackoff: time.Millisecond}

	st := store.NewMemoryStore()
	objects := &memObjects{data: make(map[string][]byte)}
	p := services.Assemble(cfg, services.Clients{
		Store:    st,
		Objects:  objects,
		Detector: staticDetector("Hotel Alpenblick\nTotal 1.234,50 EUR"),
		Analyzer: staticAnalyzer(goodReply),
	})
	return &testEnv{
		handler: New(p, testSecret, ":0").Handler(),
		store:   st,
		objects: objects,
	}
}

func token(t *testing.T, method jwt.SigningMethod, secret, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, jwt.SigningMethodHS256, testSecret, user))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealthzNeedsNoToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]string{
		"no header":    "",
		"not bearer":   "Basic dXNlcjpwdw==",
		"wrong secret": "Bearer " + token(t, jwt.SigningMethodHS256, "other-secret", "u1"),
		"wrong alg":    "Bearer " + token(t, jwt.SigningMethodHS512, testSecret, "u1"),
		"no subject":   "Bearer " + token(t, jwt.SigningMethodHS256, testSecret, ""),
		"garbage":      "Bearer not.a.jwt",
	}
	for name, authz := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/projects/trip/invoice-images", nil)
			if authz != "" {
				req.Header.Set("Authorization", authz)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestUploadURLUsesTokenSubject(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "u1", http.MethodPost, "/v1/uploads", map[string]any{
		"userId":      "someone-else",
		"projectId":   "trip",
		"fileName":    "receipt.png",
		"contentType": "image/png",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[models.UploadURLResponse](t, rec)
	assert.NotEmpty(t, resp.ImageID)
	assert.Equal(t, "invoices/u1/trip/"+resp.ImageID+".png", resp.StoragePath)
	assert.Equal(t, http.MethodPut, resp.Method)
	assert.Contains(t, resp.UploadURL, "method=PUT")
}

func TestInvoiceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	const path = "invoices/u1/trip/img-1.jpg"
	env.objects.data[testBucket+"/"+path] = []byte("jpeg")

	rec := env.do(t, "u1", http.MethodPost, "/v1/invoice-images", models.RegisterUploadRequest{
		ImageID:     "img-1",
		ProjectID:   "trip",
		StoragePath: path,
		ContentType: "image/jpeg",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusUploaded, decode[models.InvoiceImage](t, rec).Status)

	// Analysis before OCR has no text to work with.
	rec = env.do(t, "u1", http.MethodPost, "/v1/invoice-images/img-1/analysis", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, "u1", http.MethodPost, "/v1/invoice-images/img-1/ocr", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusOCRFinished, decode[models.ScanResponse](t, rec).Status)

	rec = env.do(t, "u1", http.MethodPost, "/v1/invoice-images/img-1/analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scan := decode[models.ScanResponse](t, rec)
	assert.Equal(t, models.StatusAnalysisFinished, scan.Status)
	require.NotNil(t, scan.Image)
	require.NotNil(t, scan.Image.Analysis)
	require.NotNil(t, scan.Image.Analysis.TotalAmount)
	assert.Equal(t, "1234.5", scan.Image.Analysis.TotalAmount.String())
	assert.Equal(t, "EUR", scan.Image.Analysis.Currency)
	assert.Equal(t, "2024-03-18", scan.Image.Analysis.InvoiceDate)
	assert.Equal(t, "accommodation", scan.Image.Analysis.Category)

	rec = env.do(t, "u1", http.MethodGet, "/v1/invoice-images/img-1/transitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t,
		[]models.InvoiceImageStatus{models.StatusCompleted, models.StatusAnalysisInProgress, models.StatusOCRInProgress},
		decode[models.TransitionsResponse](t, rec).Allowed)

	rec = env.do(t, "u1", http.MethodPut, "/v1/invoice-images/img-1/status", map[string]string{"status": "uploaded"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, "u1", http.MethodPut, "/v1/invoice-images/img-1/status", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusCompleted, decode[models.InvoiceImage](t, rec).Status)

	rec = env.do(t, "u1", http.MethodGet, "/v1/projects/trip/invoice-images", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Images []models.InvoiceImage `json:"images"`
	}](t, rec)
	require.Len(t, list.Images, 1)
	assert.Equal(t, "img-1", list.Images[0].ID)

	rec = env.do(t, "u1", http.MethodGet, "/v1/invoice-images/img-1/download-url", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[models.DownloadURLResponse](t, rec).DownloadURL, "method=GET")

	rec = env.do(t, "u1", http.MethodDelete, "/v1/invoice-images/img-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "u1", http.MethodGet, "/v1/invoice-images/img-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOtherUsersImagesAreForbidden(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Create(context.Background(), &models.InvoiceImage{
		ID:          "img-1",
		UserID:      "u2",
		ProjectID:   "trip",
		Bucket:      testBucket,
		StoragePath: "invoices/u2/trip/img-1.jpg",
		Status:      models.StatusUploaded,
	})
	require.NoError(t, err)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/invoice-images/img-1"},
		{http.MethodGet, "/v1/invoice-images/img-1/download-url"},
		{http.MethodPost, "/v1/invoice-images/img-1/ocr"},
		{http.MethodDelete, "/v1/invoice-images/img-1"},
	} {
		rec := env.do(t, "u1", tc.method, tc.path, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.path)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "u1", http.MethodPost, "/v1/uploads", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(decode[errorBody](t, rec).Error, "invalid request"))

	rec = env.do(t, "u1", http.MethodPost, "/v1/uploads", map[string]any{"projectId": "trip", "contentType": "image/gif"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "u1", http.MethodPut, "/v1/invoice-images/img-1/status", map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanProject(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b"} {
		path := "invoices/u1/trip/" + id + ".jpg"
		env.objects.data[testBucket+"/"+path] = []byte(id)
		rec := env.do(t, "u1", http.MethodPost, "/v1/invoice-images", models.RegisterUploadRequest{
			ImageID: id, ProjectID: "trip", StoragePath: path, ContentType: "image/jpeg",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := env.do(t, "u1", http.MethodPost, "/v1/projects/trip/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.ProjectScanResponse](t, rec)
	assert.Equal(t, 2, resp.Attempted)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Zero(t, resp.Failed)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", services.ErrInvalidRequest), http.StatusBadRequest},
		{services.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("img-1: %w", store.ErrNotFound), http.StatusNotFound},
		{&models.TransitionError{From: models.StatusCompleted, To: models.StatusUploaded}, http.StatusConflict},
		{services.ErrNoOCRText, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}
