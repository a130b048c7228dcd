package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const selectColumns = `id, user_id, project_id, file_name, bucket, storage_path, content_type,
	size_bytes, status, error_message, ocr, analysis, created_at, updated_at, status_changed_at`

// PostgresStore keeps invoice images in the invoice_images table. The OCR and
// analysis results are JSONB; total and currency are copied into columns for
// reporting queries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the table and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, img *models.InvoiceImage) (bool, error) {
	now := time.Now().UTC()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	img.UpdatedAt = now
	if img.StatusChangedAt.IsZero() {
		img.StatusChangedAt = now
	}
	ocr, analysis, total, currency, err := encodeResults(img)
	if err != nil {
		return false, err
	}

	const query = `insert into invoice_images (
		id, user_id, project_id, file_name, bucket, storage_path, content_type, size_bytes,
		status, error_message, ocr, analysis, total_amount, currency,
		created_at, updated_at, status_changed_at
	) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	on conflict (id) do nothing`

	res, err := s.db.ExecContext(ctx, query,
		img.ID, img.UserID, img.ProjectID, img.FileName, img.Bucket, img.StoragePath, img.ContentType, img.SizeBytes,
		string(img.Status), img.ErrorMessage, ocr, analysis, total, currency,
		img.CreatedAt, img.UpdatedAt, img.StatusChangedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert invoice image %s: %w", img.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.InvoiceImage, error) {
	row := s.db.QueryRowContext(ctx, `select `+selectColumns+` from invoice_images where id = $1`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice image %s: %w", id, err)
	}
	return img, nil
}

func (s *PostgresStore) ListByProject(ctx context.Context, userID, projectID string) ([]*models.InvoiceImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+selectColumns+` from invoice_images
		 where user_id = $1 and project_id = $2
		 order by created_at, id`, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice images: %w", err)
	}
	return collectRows(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []models.InvoiceImageStatus, changedBefore time.Time) ([]*models.InvoiceImage, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	var before any
	if !changedBefore.IsZero() {
		before = changedBefore
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+selectColumns+` from invoice_images
		 where status = any($1) and ($2::timestamptz is null or status_changed_at < $2)
		 order by created_at, id`, pq.Array(values), before)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice images by status: %w", err)
	}
	return collectRows(rows)
}

func (s *PostgresStore) Transition(ctx context.Context, id string, to models.InvoiceImageStatus, patch models.StatusPatch) (*models.InvoiceImage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `select `+selectColumns+` from invoice_images where id = $1 for update`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice image %s: %w", id, err)
	}

	if err := applyTransition(img, to, patch, time.Now().UTC()); err != nil {
		return nil, err
	}
	ocr, analysis, total, currency, err := encodeResults(img)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `update invoice_images set
		status = $2, error_message = $3, ocr = $4, analysis = $5,
		total_amount = $6, currency = $7, updated_at = $8, status_changed_at = $9
		where id = $1`,
		id, string(img.Status), img.ErrorMessage, ocr, analysis, total, currency, img.UpdatedAt, img.StatusChangedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice image %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status change for %s: %w", id, err)
	}
	return img, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from invoice_images where id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice image %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*models.InvoiceImage, error) {
	var (
		img           models.InvoiceImage
		status        string
		ocr, analysis []byte
	)
	err := row.Scan(
		&img.ID, &img.UserID, &img.ProjectID, &img.FileName, &img.Bucket, &img.StoragePath, &img.ContentType,
		&img.SizeBytes, &status, &img.ErrorMessage, &ocr, &analysis, &img.CreatedAt, &img.UpdatedAt, &img.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}
	img.Status = models.InvoiceImageStatus(status)
	if ocr != nil {
		img.OCR = &models.OCRResult{}
		if err := json.Unmarshal(ocr, img.OCR); err != nil {
			return nil, fmt.Errorf("failed to decode ocr column of %s: %w", img.ID, err)
		}
	}
	if analysis != nil {
		img.Analysis = &models.InvoiceAnalysis{}
		if err := json.Unmarshal(analysis, img.Analysis); err != nil {
			return nil, fmt.Errorf("failed to decode analysis column of %s: %w", img.ID, err)
		}
	}
	return &img, nil
}

func collectRows(rows *sql.Rows) ([]*models.InvoiceImage, error) {
	defer rows.Close()
	var out []*models.InvoiceImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoice images: %w", err)
	}
	return out, nil
}

// encodeResults turns the nested results into column values. Missing results
// are passed as untyped nil so they are stored as NULL.
func encodeResults(img *models.InvoiceImage) (ocr, analysis any, total decimal.NullDecimal, currency sql.NullString, err error) {
	if img.OCR != nil {
		b, err := json.Marshal(img.OCR)
		if err != nil {
			return nil, nil, total, currency, fmt.Errorf("failed to encode ocr result: %w", err)
		}
		ocr = b
	}
	if img.Analysis != nil {
		b, err := json.Marshal(img.Analysis)
		if err != nil {
			return nil, nil, total, currency, fmt.Errorf("failed to encode analysis: %w", err)
		}
		analysis = b
		if img.Analysis.TotalAmount != nil {
			total = decimal.NewNullDecimal(img.Analysis.TotalAmount.Round(2))
		}
		if img.Analysis.Currency != "" {
			currency = sql.NullString{String: img.Analysis.Currency, Valid: true}
		}
	}
	return ocr, analysis, total, currency, nil
}
