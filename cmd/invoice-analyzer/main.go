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
	analyzerInstance *services.AnalyzerFunction
	once             sync.Once
	initErr          error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()})))

	functions.HTTP("HandleAnalyzeInvoice", handleAnalyzeInvoice)
}

// main is required by the Go Functions Framework.
func main() {}

// handleAnalyzeInvoice sends the OCR text of an image to Gemini and stores
// the extracted invoice fields.
func handleAnalyzeInvoice(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		analyzerInstance, initErr = services.NewAnalyzerFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Analyzer function initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ScanRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}

	res, err := analyzerInstance.Process(r.Context(), &req)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}
