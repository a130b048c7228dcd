package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/google/uuid"
)

// ObjectPrefix is the top-level folder of every invoice object in the bucket.
const ObjectPrefix = "invoices/"

// contentTypeExt maps the accepted upload types to the object name extension.
var contentTypeExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"application/pdf": ".pdf",
}

// UploadConfig holds the settings for issuing URLs and registering uploads.
type UploadConfig struct {
	Bucket         string
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
	MaxUploadBytes int64
}

// UploadFunction issues signed URLs and keeps the metadata records of uploads.
type UploadFunction struct {
	store   store.InvoiceImageStore
	objects ObjectStore
	config  UploadConfig
	now     func() time.Time
	newID   func() string
}

func NewUploads(st store.InvoiceImageStore, objects ObjectStore, cfg UploadConfig) *UploadFunction {
	return &UploadFunction{
		store:   st,
		objects: objects,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// NewUploadFunction loads the configuration from the environment and creates
// the store and storage clients.
func NewUploadFunction(ctx context.Context) (*UploadFunction, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(config.NeedBucket, config.NeedStore); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	objects, err := gcp.NewObjectStore(ctx, cfg.SigningEmail, cfg.SigningPrivateKey)
	if err != nil {
		return nil, err
	}
	slog.Info("Upload logic initialized.", "bucket", cfg.InvoiceBucket, "explicitSigningKey", cfg.SigningPrivateKey != "")
	return NewUploads(st, objects, UploadConfigFrom(cfg)), nil
}

func UploadConfigFrom(cfg config.Config) UploadConfig {
	return UploadConfig{
		Bucket:         cfg.InvoiceBucket,
		UploadURLTTL:   cfg.UploadURLTTL,
		DownloadURLTTL: cfg.DownloadURLTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
}

// ObjectName is the storage path of an invoice file.
func ObjectName(userID, projectID, imageID, contentType string) string {
	return ObjectPrefix + userID + "/" + projectID + "/" + imageID + contentTypeExt[contentType]
}

// ParseObjectName splits a storage path built by ObjectName. ok is false for
// objects outside the invoice layout.
func ParseObjectName(name string) (userID, projectID, imageID string, ok bool) {
	rest, found := strings.CutPrefix(name, ObjectPrefix)
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	imageID = strings.TrimSuffix(parts[2], path.Ext(parts[2]))
	if imageID == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], imageID, true
}

// ContentTypeFor returns the accepted content type of an object name's extension.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == ".jpeg" {
		return "image/jpeg"
	}
	for ct, e := range contentTypeExt {
		if e == ext {
			return ct
		}
	}
	return ""
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

func validPathSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\") && s != "." && s != ".."
}

func (f *UploadFunction) validateFile(contentType string, size int64) (string, error) {
	ct := normalizeContentType(contentType)
	if _, ok := contentTypeExt[ct]; !ok {
		return "", invalid("unsupported content type %q", contentType)
	}
	if size < 0 {
		return "", invalid("sizeBytes must not be negative")
	}
	if f.config.MaxUploadBytes > 0 && size > f.config.MaxUploadBytes {
		return "", invalid("file is %d bytes, limit is %d", size, f.config.MaxUploadBytes)
	}
	return ct, nil
}

// CreateUploadURL allocates an image id and returns a signed PUT URL bound
// to the content type.
func (f *UploadFunction) CreateUploadURL(ctx context.Context, req *models.UploadURLRequest) (*models.UploadURLResponse, error) {
	if !validPathSegment(req.UserID) {
		return nil, invalid("userId is required")
	}
	if !validPathSegment(req.ProjectID) {
		return nil, invalid("projectId is required")
	}
	ct, err := f.validateFile(req.ContentType, req.SizeBytes)
	if err != nil {
		return nil, err
	}

	imageID := f.newID()
	objectName := ObjectName(req.UserID, req.ProjectID, imageID, ct)
	expires := f.now().Add(f.config.UploadURLTTL)
	url, err := f.objects.SignedURL(f.config.Bucket, objectName, http.MethodPut, ct, expires)
	if err != nil {
		return nil, err
	}

	slog.Info("Issued upload URL.", "imageId", imageID, "userId", req.UserID, "projectId", req.ProjectID, "contentType", ct)
	return &models.UploadURLResponse{
		ImageID:     imageID,
		Bucket:      f.config.Bucket,
		StoragePath: objectName,
		UploadURL:   url,
		Method:      http.MethodPut,
		Headers:     models.Headers{"Content-Type": ct},
		ExpiresAt:   expires,
	}, nil
}

// RegisterUpload writes the metadata record of a finished upload with status
// uploaded. Registering the same image again returns the existing record.
func (f *UploadFunction) RegisterUpload(ctx context.Context, req *models.RegisterUploadRequest) (*models.InvoiceImage, error) {
	if !validPathSegment(req.ImageID) || !validPathSegment(req.UserID) || !validPathSegment(req.ProjectID) {
		return nil, invalid("imageId, userId and projectId are required")
	}
	ct, err := f.validateFile(req.ContentType, req.SizeBytes)
	if err != nil {
		return nil, err
	}
	want := ObjectName(req.UserID, req.ProjectID, req.ImageID, ct)
	if req.StoragePath != want {
		return nil, invalid("storagePath %q does not match %q", req.StoragePath, want)
	}

	img := &models.InvoiceImage{
		ID:          req.ImageID,
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
		FileName:    strings.TrimSpace(req.FileName),
		Bucket:      f.config.Bucket,
		StoragePath: want,
		ContentType: ct,
		SizeBytes:   req.SizeBytes,
		Status:      models.StatusUploaded,
	}
	created, err := f.store.Create(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to register upload: %w", err)
	}
	if !created {
		existing, err := loadOwned(ctx, f.store, req.ImageID, req.UserID)
		if err != nil {
			return nil, err
		}
		slog.Info("Upload already registered.", "imageId", req.ImageID, "status", existing.Status)
		return existing, nil
	}
	slog.Info("Registered upload.", "imageId", img.ID, "projectId", img.ProjectID, "storagePath", img.StoragePath)
	return img, nil
}

// Get returns one image of the user.
func (f *UploadFunction) Get(ctx context.Context, imageID, userID string) (*models.InvoiceImage, error) {
	return loadOwned(ctx, f.store, imageID, userID)
}

// List returns the images of one project of the user, oldest first.
func (f *UploadFunction) List(ctx context.Context, userID, projectID string) ([]*models.InvoiceImage, error) {
	if userID == "" || projectID == "" {
		return nil, invalid("userId and projectId are required")
	}
	images, err := f.store.ListByProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if images == nil {
		images = []*models.InvoiceImage{}
	}
	return images, nil
}

// CreateDownloadURL returns a signed GET URL for the image file.
func (f *UploadFunction) CreateDownloadURL(ctx context.Context, imageID, userID string) (*models.DownloadURLResponse, error) {
	img, err := loadOwned(ctx, f.store, imageID, userID)
	if err != nil {
		return nil, err
	}
	expires := f.now().Add(f.config.DownloadURLTTL)
	url, err := f.objects.SignedURL(img.Bucket, img.StoragePath, http.MethodGet, "", expires)
	if err != nil {
		return nil, err
	}
	return &models.DownloadURLResponse{ImageID: img.ID, DownloadURL: url, ExpiresAt: expires}, nil
}

// Delete removes the stored file and the record. A file that is already gone
// does not stop the record from being deleted.
func (f *UploadFunction) Delete(ctx context.Context, imageID, userID string) error {
	img, err := loadOwned(ctx, f.store, imageID, userID)
	if err != nil {
		return err
	}
	if err := f.objects.DeleteObject(ctx, img.Bucket, img.StoragePath); err != nil {
		return fmt.Errorf("failed to delete file of %s: %w", img.ID, err)
	}
	if err := f.store.Delete(ctx, img.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete record of %s: %w", img.ID, err)
	}
	slog.Info("Deleted invoice image.", "imageId", img.ID, "storagePath", img.StoragePath)
	return nil
}
