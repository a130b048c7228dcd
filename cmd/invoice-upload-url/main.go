package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/server"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

var (
	uploadInstance *services.UploadFunction
	once           sync.Once
	initErr        error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()})))

	functions.HTTP("HandleCreateUploadURL", handleCreateUploadURL)
}

// main is required by the Go Functions Framework.
func main() {}

// handleCreateUploadURL issues a signed PUT URL the client uploads the invoice to.
func handleCreateUploadURL(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		uploadInstance, initErr = services.NewUploadFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Upload URL function initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.UploadURLRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}

	res, err := uploadInstance.CreateUploadURL(r.Context(), &req)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}
