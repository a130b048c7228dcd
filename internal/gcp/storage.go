package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

var (
	// ErrObjectNotFound is returned when the requested GCS object does not exist.
	ErrObjectNotFound = errors.New("storage object not found")
	// ErrObjectTooLarge is returned by ReadObject for objects above the size limit.
	ErrObjectTooLarge = errors.New("storage object too large")
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ObjectStore wraps the GCS client with the operations the invoice services need.
type ObjectStore struct {
	client       *storage.Client
	signingEmail string
	signingKey   []byte
}

// NewObjectStore creates a storage client. When signingEmail and signingKey
// are empty, signed URLs are produced with the ambient credentials.
func NewObjectStore(ctx context.Context, signingEmail, signingKey string) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	s := &ObjectStore{client: client, signingEmail: signingEmail}
	if signingKey != "" {
		// Keys passed through env vars usually carry literal \n sequences.
		s.signingKey = []byte(strings.ReplaceAll(signingKey, `\n`, "\n"))
	}
	return s, nil
}

func (s *ObjectStore) Close() error {
	return s.client.Close()
}

// ReadObject downloads an object fully into memory, refusing objects larger than maxBytes.
func (s *ObjectStore) ReadObject(ctx context.Context, bucket, name string, maxBytes int64) ([]byte, error) {
	reader, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, name, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, name, err)
	}
	defer reader.Close()

	if maxBytes > 0 && reader.Attrs.Size > maxBytes {
		return nil, fmt.Errorf("gs://%s/%s is %d bytes, limit is %d: %w", bucket, name, reader.Attrs.Size, maxBytes, ErrObjectTooLarge)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object gs://%s/%s: %w", bucket, name, err)
	}
	return data, nil
}

// DeleteObject removes an object. A missing object is not an error.
func (s *ObjectStore) DeleteObject(ctx context.Context, bucket, name string) error {
	err := s.client.Bucket(bucket).Object(name).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		slog.Info("Object already gone.", "bucket", bucket, "object", name)
		return nil
	}
	return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, name, err)
}

// SignedURL returns a V4 signed URL for method on the object. contentType is
// bound into the signature for uploads and ignored when empty.
func (s *ObjectStore) SignedURL(bucket, name, method, contentType string, expires time.Time) (string, error) {
	if len(s.signingKey) > 0 {
		return SignURL(bucket, name, method, contentType, s.signingEmail, s.signingKey, expires)
	}
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      method,
		Expires:     expires,
		ContentType: contentType,
	}
	url, err := s.client.Bucket(bucket).SignedURL(name, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s URL for gs://%s/%s: %w", method, bucket, name, err)
	}
	return url, nil
}

// SignURL signs with an explicit service-account key.
func SignURL(bucket, name, method, contentType, email string, privateKey []byte, expires time.Time) (string, error) {
	url, err := storage.SignedURL(bucket, name, &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         method,
		Expires:        expires,
		ContentType:    contentType,
		GoogleAccessID: email,
		PrivateKey:     privateKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign %s URL for gs://%s/%s: %w", method, bucket, name, err)
	}
	return url, nil
}
