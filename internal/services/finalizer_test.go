package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinalizer(t *testing.T, workflow WorkflowStarter) (*FinalizerFunction, *store.MemoryStore, *fakeObjects) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := newFakeObjects()
	f := NewFinalizer(st, objects, workflow, UploadConfig{Bucket: testBucket, MaxUploadBytes: 1 << 20, UploadURLTTL: time.Minute})
	return f, st, objects
}

func TestFinalizerRegistersUpload(t *testing.T) {
	ctx := context.Background()
	wf := &fakeWorkflow{}
	f, st, _ := newTestFinalizer(t, wf)

	err := f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "invoices/u1/trip/img-1.jpg", ContentType: "image/jpeg", Size: "2048"})
	require.NoError(t, err)

	got, err := st.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, got.Status)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "trip", got.ProjectID)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.Equal(t, []any{models.AutoScanArgument{ImageID: "img-1", UserID: "u1"}}, wf.args)
}

func TestFinalizerSkipsForeignObjects(t *testing.T) {
	ctx := context.Background()
	wf := &fakeWorkflow{}
	f, st, _ := newTestFinalizer(t, wf)

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "other", Name: "invoices/u1/trip/img-1.jpg"}))
	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "exports/report.csv"}))
	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "invoices/u1/trip/img-2.gif", ContentType: "image/gif"}))

	list, err := st.ListByProject(ctx, "u1", "trip")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, wf.args)
}

func TestFinalizerLeavesProcessedImagesAlone(t *testing.T) {
	ctx := context.Background()
	wf := &fakeWorkflow{}
	f, st, _ := newTestFinalizer(t, wf)
	seedImage(t, st, "img-1", "u1", "trip", "image/jpeg", models.StatusOCRInProgress)

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "invoices/u1/trip/img-1.jpg", ContentType: "image/jpeg"}))
	assert.Empty(t, wf.args)
}

func TestFinalizerRejectsBrokenPDF(t *testing.T) {
	ctx := context.Background()
	wf := &fakeWorkflow{}
	f, st, objects := newTestFinalizer(t, wf)
	objects.put(testBucket, "invoices/u1/trip/doc-1.pdf", []byte("not a pdf"))

	err := f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "invoices/u1/trip/doc-1.pdf", ContentType: "application/pdf", Size: "9"})
	require.NoError(t, err)

	got, err := st.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "rejected PDF upload")
	assert.Empty(t, wf.args)
}

func TestFinalizerAcceptsValidPDF(t *testing.T) {
	ctx := context.Background()
	f, st, objects := newTestFinalizer(t, nil)
	f.pdfPages = func([]byte) (int, error) { return 3, nil }
	objects.put(testBucket, "invoices/u1/trip/doc-1.pdf", []byte("%PDF"))

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "invoices/u1/trip/doc-1.pdf", ContentType: "application/pdf"}))
	got, err := st.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, got.Status)
}

func TestFinalizerReturnsWorkflowErrors(t *testing.T) {
	ctx := context.Background()
	wf := &fakeWorkflow{err: errors.New("permission denied")}
	f, _, _ := newTestFinalizer(t, wf)

	err := f.Process(ctx, GCSEvent{Bucket: testBucket, Name: "invoices/u1/trip/img-1.png", ContentType: "image/png"})
	assert.ErrorContains(t, err, "permission denied")
}
