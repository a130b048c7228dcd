package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per invoice image in a flat collection,
// keyed by image id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, img *models.InvoiceImage) (bool, error) {
	now := time.Now().UTC()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	img.UpdatedAt = now
	if img.StatusChangedAt.IsZero() {
		img.StatusChangedAt = now
	}
	if _, err := s.doc(img.ID).Create(ctx, toFirestore(img)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create invoice image %s: %w", img.ID, err)
	}
	return true, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.InvoiceImage, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice image %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

func (s *FirestoreStore) ListByProject(ctx context.Context, userID, projectID string) ([]*models.InvoiceImage, error) {
	query := s.client.Collection(s.collection).
		Where("userId", "==", userID).
		Where("projectId", "==", projectID)
	images, err := s.collect(ctx, query, func(*models.InvoiceImage) bool { return true })
	if err != nil {
		return nil, err
	}
	sortByCreated(images)
	return images, nil
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, statuses []models.InvoiceImageStatus, changedBefore time.Time) ([]*models.InvoiceImage, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	// Filtering on statusChangedAt in the query would need a composite index.
	query := s.client.Collection(s.collection).Where("status", "in", values)
	images, err := s.collect(ctx, query, func(img *models.InvoiceImage) bool {
		return changedBefore.IsZero() || img.StatusChangedAt.Before(changedBefore)
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(images)
	return images, nil
}

func (s *FirestoreStore) collect(ctx context.Context, query firestore.Query, keep func(*models.InvoiceImage) bool) ([]*models.InvoiceImage, error) {
	it := query.Documents(ctx)
	defer it.Stop()

	var out []*models.InvoiceImage
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list invoice images: %w", err)
		}
		img, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		if keep(img) {
			out = append(out, img)
		}
	}
	return out, nil
}

func (s *FirestoreStore) Transition(ctx context.Context, id string, to models.InvoiceImageStatus, patch models.StatusPatch) (*models.InvoiceImage, error) {
	ref := s.doc(id)
	var updated *models.InvoiceImage
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		img, err := decodeSnapshot(snap)
		if err != nil {
			return err
		}
		if err := applyTransition(img, to, patch, time.Now().UTC()); err != nil {
			return err
		}
		updated = img
		return tx.Set(ref, toFirestore(img))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete invoice image %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*models.InvoiceImage, error) {
	var doc firestoreImage
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode invoice image %s: %w", snap.Ref.ID, err)
	}
	img, err := doc.model()
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoice image %s: %w", snap.Ref.ID, err)
	}
	img.ID = snap.Ref.ID
	return img, nil
}

// firestoreImage is the document shape. Amounts are stored as decimal strings
// so cents survive the round trip.
type firestoreImage struct {
	models.InvoiceImage
	Analysis *firestoreAnalysis `firestore:"analysis,omitempty"`
}

type firestoreAnalysis struct {
	models.InvoiceAnalysis
	TotalAmount *string `firestore:"totalAmount,omitempty"`
	TaxAmount   *string `firestore:"taxAmount,omitempty"`
}

func toFirestore(img *models.InvoiceImage) *firestoreImage {
	doc := &firestoreImage{InvoiceImage: *img}
	doc.InvoiceImage.Analysis = nil
	if a := img.Analysis; a != nil {
		doc.Analysis = &firestoreAnalysis{
			InvoiceAnalysis: *a,
			TotalAmount:     amountString(a.TotalAmount),
			TaxAmount:       amountString(a.TaxAmount),
		}
	}
	return doc
}

func (doc *firestoreImage) model() (*models.InvoiceImage, error) {
	img := doc.InvoiceImage
	img.Analysis = nil
	if doc.Analysis == nil {
		return &img, nil
	}
	a := doc.Analysis.InvoiceAnalysis
	var err error
	if a.TotalAmount, err = parseAmountString(doc.Analysis.TotalAmount); err != nil {
		return nil, fmt.Errorf("totalAmount: %w", err)
	}
	if a.TaxAmount, err = parseAmountString(doc.Analysis.TaxAmount); err != nil {
		return nil, fmt.Errorf("taxAmount: %w", err)
	}
	img.Analysis = &a
	return &img, nil
}

func amountString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

func parseAmountString(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
