package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	"github.com/Lllllllleong/invoiceflow/internal/store"
	"github.com/spf13/cobra"
)

var statusMessage string

var scanCmd = &cobra.Command{
	Use:   "scan <imageId>",
	Short: "Run OCR and analysis for one invoice image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		p, err := services.OpenPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		resp, err := p.Batch.ScanImage(ctx, &models.ScanRequest{ImageID: args[0], UserID: userID, ExecutionID: "invoicectl"})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var scanProjectCmd = &cobra.Command{
	Use:   "scan-project <projectId>",
	Short: "Scan every pending image of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		p, err := services.OpenPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		resp, err := p.Batch.ScanProject(ctx, userID, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <imageId> <status>",
	Short: "Move an invoice image to another status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := store.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		img, err := services.NewStatus(st).UpdateStatus(ctx, &models.StatusUpdateRequest{
			ImageID:      args[0],
			UserID:       userID,
			Status:       args[1],
			ErrorMessage: statusMessage,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), img)
	},
}

var transitionsCmd = &cobra.Command{
	Use:   "transitions [status]",
	Short: "Print the status transition table",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses := models.AllStatuses
		if len(args) == 1 {
			s, err := models.ParseStatus(args[0])
			if err != nil {
				return err
			}
			statuses = []models.InvoiceImageStatus{s}
		}
		printTransitions(cmd.OutOrStdout(), statuses)
		return nil
	},
}

func printTransitions(w io.Writer, statuses []models.InvoiceImageStatus) {
	for _, s := range statuses {
		next := models.AllowedTransitions(s)
		names := make([]string, len(next))
		for i, n := range next {
			names[i] = n.String()
		}
		fmt.Fprintf(w, "%-22s -> %s\n", s, strings.Join(names, ", "))
	}
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail images that have been processing for longer than STALE_AFTER",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := store.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := services.NewSweeper(st, cfg.StaleAfter).Sweep(ctx)
		if err != nil {
			return err
		}
		slog.Info("Sweep complete.", "failed", n)
		fmt.Fprintf(cmd.OutOrStdout(), "%d stuck images marked as failed\n", n)
		return nil
	},
}
