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
	ocrInstance *services.OCRFunction
	once        sync.Once
	initErr     error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()})))

	// Called by the mobile client and by the auto-scan workflow.
	functions.HTTP("HandleProcessInvoiceOCR", handleProcessInvoiceOCR)
}

// main is required by the Go Functions Framework.
func main() {}

func handleProcessInvoiceOCR(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		ocrInstance, initErr = services.NewOCRFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("OCR function initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ScanRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}

	// Failures are already logged and recorded on the image inside Process.
	res, err := ocrInstance.Process(r.Context(), &req)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}
