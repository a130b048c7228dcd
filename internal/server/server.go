// Package server exposes the invoice pipeline as an authenticated JSON API
// for the mobile client.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

// Server routes API requests to the pipeline steps.
type Server struct {
	pipeline   *services.Pipeline
	jwtSecret  []byte
	httpServer *http.Server
}

// New creates a Server listening on addr (":8080" style).
func New(pipeline *services.Pipeline, jwtSecret, addr string) *Server {
	s := &Server{
		pipeline:  pipeline,
		jwtSecret: []byte(jwtSecret),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route table wrapped in the logging middleware.
// Everything except /healthz requires a bearer token.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/uploads", s.handleCreateUploadURL)
	api.HandleFunc("POST /v1/invoice-images", s.handleRegisterUpload)
	api.HandleFunc("GET /v1/invoice-images/{id}", s.handleGetImage)
	api.HandleFunc("DELETE /v1/invoice-images/{id}", s.handleDeleteImage)
	api.HandleFunc("GET /v1/invoice-images/{id}/download-url", s.handleDownloadURL)
	api.HandleFunc("POST /v1/invoice-images/{id}/ocr", s.handleOCR)
	api.HandleFunc("POST /v1/invoice-images/{id}/analysis", s.handleAnalysis)
	api.HandleFunc("PUT /v1/invoice-images/{id}/status", s.handleUpdateStatus)
	api.HandleFunc("GET /v1/invoice-images/{id}/transitions", s.handleTransitions)
	api.HandleFunc("GET /v1/projects/{projectId}/invoice-images", s.handleListProject)
	api.HandleFunc("POST /v1/projects/{projectId}/scan", s.handleScanProject)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.Handle("/", WithJWTAuth(s.jwtSecret, api))
	return WithRequestLogging(mux)
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	slog.Info("API server listening.", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCreateUploadURL(w http.ResponseWriter, r *http.Request) {
	var req models.UploadURLRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	req.UserID = UserID(r.Context())
	resp, err := s.pipeline.Uploads.CreateUploadURL(r.Context(), &req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterUpload(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterUploadRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	req.UserID = UserID(r.Context())
	img, err := s.pipeline.Uploads.RegisterUpload(r.Context(), &req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, img)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.pipeline.Uploads.Get(r.Context(), r.PathValue("id"), UserID(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, img)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Uploads.Delete(r.Context(), r.PathValue("id"), UserID(r.Context())); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	resp, err := s.pipeline.Uploads.CreateDownloadURL(r.Context(), r.PathValue("id"), UserID(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	s.scan(w, r, s.pipeline.OCR)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	s.scan(w, r, s.pipeline.Analyzer)
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request, step services.Scanner) {
	req := &models.ScanRequest{
		ImageID:     r.PathValue("id"),
		UserID:      UserID(r.Context()),
		ExecutionID: RequestID(r.Context()),
	}
	resp, err := step.Process(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

type statusBody struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := DecodeJSON(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	img, err := s.pipeline.Status.UpdateStatus(r.Context(), &models.StatusUpdateRequest{
		ImageID:      r.PathValue("id"),
		UserID:       UserID(r.Context()),
		Status:       body.Status,
		ErrorMessage: body.ErrorMessage,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, img)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.pipeline.Status.AllowedTransitions(r.Context(), r.PathValue("id"), UserID(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProject(w http.ResponseWriter, r *http.Request) {
	images, err := s.pipeline.Uploads.List(r.Context(), UserID(r.Context()), r.PathValue("projectId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (s *Server) handleScanProject(w http.ResponseWriter, r *http.Request) {
	resp, err := s.pipeline.Batch.ScanProject(r.Context(), UserID(r.Context()), r.PathValue("projectId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
