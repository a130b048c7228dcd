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
	statusInstance *services.StatusFunction
	once           sync.Once
	initErr        error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()})))

	functions.HTTP("HandleUpdateInvoiceStatus", handleUpdateInvoiceStatus)
}

// main is required by the Go Functions Framework.
func main() {}

// handleUpdateInvoiceStatus applies a manual status change, e.g. the user
// confirming the analysis (completed) or asking for a rescan (ocr_in_progress).
func handleUpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		statusInstance, initErr = services.NewStatusFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Status function initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.StatusUpdateRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.WriteError(w, r, err)
		return
	}

	img, err := statusInstance.UpdateStatus(r.Context(), &req)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, img)
}
