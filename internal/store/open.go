package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
)

// Open returns the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config) (InvoiceImageStore, error) {
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		slog.Info("Using Firestore store.", "collection", cfg.FirestoreCollection, "database", cfg.FirestoreDatabase)
		return NewFirestoreStore(client, cfg.FirestoreCollection), nil
	case config.BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("Using Postgres store.")
		return s, nil
	case config.BackendMemory:
		slog.Warn("Using in-memory store. Records are lost on restart.")
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
}
