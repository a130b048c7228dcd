package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	finalizerInstance *services.FinalizerFunction
	once              sync.Once
	initErr           error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()})))

	// Triggered by google.cloud.storage.object.v1.finalized on the invoice bucket.
	functions.CloudEvent("RegisterInvoiceUpload", registerInvoiceUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func registerInvoiceUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		finalizerInstance, initErr = services.NewFinalizerFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// A returned error makes Eventarc redeliver the event.
	return finalizerInstance.Process(ctx, gcsEvent)
}
