package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// MemoryStore keeps records in process memory. It backs local development
// (STORE_BACKEND=memory) and the service tests.
type MemoryStore struct {
	mu     sync.Mutex
	images map[string]*models.InvoiceImage
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		images: make(map[string]*models.InvoiceImage),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(_ context.Context, img *models.InvoiceImage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[img.ID]; ok {
		return false, nil
	}
	now := s.now()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	img.UpdatedAt = now
	if img.StatusChangedAt.IsZero() {
		img.StatusChangedAt = now
	}
	s.images[img.ID] = clone(img)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.InvoiceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(img), nil
}

func (s *MemoryStore) ListByProject(_ context.Context, userID, projectID string) ([]*models.InvoiceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.InvoiceImage
	for _, img := range s.images {
		if img.UserID == userID && img.ProjectID == projectID {
			out = append(out, clone(img))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses []models.InvoiceImageStatus, changedBefore time.Time) ([]*models.InvoiceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.InvoiceImage
	for _, img := range s.images {
		if !inStatuses(img.Status, statuses) {
			continue
		}
		if !changedBefore.IsZero() && !img.StatusChangedAt.Before(changedBefore) {
			continue
		}
		out = append(out, clone(img))
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, to models.InvoiceImageStatus, patch models.StatusPatch) (*models.InvoiceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := clone(img)
	if err := applyTransition(updated, to, patch, s.now()); err != nil {
		return nil, err
	}
	s.images[id] = updated
	return clone(updated), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; !ok {
		return ErrNotFound
	}
	delete(s.images, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(img *models.InvoiceImage) *models.InvoiceImage {
	c := *img
	if img.OCR != nil {
		ocr := *img.OCR
		c.OCR = &ocr
	}
	if img.Analysis != nil {
		a := *img.Analysis
		c.Analysis = &a
	}
	return &c
}

func sortByCreated(images []*models.InvoiceImage) {
	sort.Slice(images, func(i, j int) bool {
		if images[i].CreatedAt.Equal(images[j].CreatedAt) {
			return images[i].ID < images[j].ID
		}
		return images[i].CreatedAt.Before(images[j].CreatedAt)
	})
}
