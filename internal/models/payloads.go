package models

import "time"

// These structs define the JSON payloads exchanged between the mobile client
// (or the auto-scan workflow) and the HTTP functions and API server.

// UploadURLRequest is the input for issuing a signed upload URL.
type UploadURLRequest struct {
	UserID      string `json:"userId"`
	ProjectID   string `json:"projectId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// UploadURLResponse tells the client where to PUT the file.
type UploadURLResponse struct {
	ImageID     string    `json:"imageId"`
	Bucket      string    `json:"bucket"`
	StoragePath string    `json:"storagePath"`
	UploadURL   string    `json:"uploadUrl"`
	Method      string    `json:"method"`
	Headers     Headers   `json:"headers"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Headers are the request headers the client must send with the signed PUT.
type Headers map[string]string

// RegisterUploadRequest writes the metadata row once the client finished the upload.
type RegisterUploadRequest struct {
	ImageID     string `json:"imageId"`
	UserID      string `json:"userId"`
	ProjectID   string `json:"projectId"`
	StoragePath string `json:"storagePath"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// DownloadURLResponse is a time-limited GET URL for an invoice file.
type DownloadURLResponse struct {
	ImageID     string    `json:"imageId"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ScanRequest is the input for both the OCR and the analysis step.
type ScanRequest struct {
	ImageID     string `json:"imageId"`
	UserID      string `json:"userId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ScanResponse is returned by the OCR and analysis steps.
type ScanResponse struct {
	ImageID string             `json:"imageId"`
	Status  InvoiceImageStatus `json:"status"`
	Image   *InvoiceImage      `json:"image,omitempty"`
}

// StatusUpdateRequest asks for a manual status change.
type StatusUpdateRequest struct {
	ImageID      string `json:"imageId"`
	UserID       string `json:"userId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// TransitionsResponse lists the states a client may move an image to next.
type TransitionsResponse struct {
	ImageID string               `json:"imageId"`
	Status  InvoiceImageStatus   `json:"status"`
	Allowed []InvoiceImageStatus `json:"allowed"`
}

// ProjectScanResponse summarises a batch scan over a project.
type ProjectScanResponse struct {
	ProjectID string   `json:"projectId"`
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failedIds,omitempty"`
}

// AutoScanArgument is the argument passed to the auto-scan workflow execution.
type AutoScanArgument struct {
	ImageID string `json:"imageId"`
	UserID  string `json:"userId"`
}
