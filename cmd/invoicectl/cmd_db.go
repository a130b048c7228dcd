package main

import (
	"fmt"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the invoice_images table in DATABASE_URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if cfg.StoreBackend != config.BackendPostgres {
			fmt.Fprintf(cmd.ErrOrStderr(), "note: STORE_BACKEND is %q, migrating DATABASE_URL anyway\n", cfg.StoreBackend)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
		return nil
	},
}
