package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the Gemini models visible to GOOGLE_API_KEY",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := gcp.NewGeminiAPIClient(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		defer client.Close()

		models, err := client.ListModels(ctx)
		if err != nil {
			return err
		}
		printModels(cmd.OutOrStdout(), models)
		return nil
	},
}

func printModels(w io.Writer, models []gcp.ModelInfo) {
	fmt.Fprintln(w, "Available Models:")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, m := range models {
		fmt.Fprintf(w, "Name: %s\n", m.Name)
		fmt.Fprintf(w, "Display Name: %s\n", m.DisplayName)
		if m.InputTokenLimit > 0 {
			fmt.Fprintf(w, "Token Limits: %d in / %d out\n", m.InputTokenLimit, m.OutputTokenLimit)
		}
		fmt.Fprintln(w, strings.Repeat("-", 50))
	}
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send prompts to Gemini interactively (type 'quit' to exit)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := gcp.NewGeminiAPIClient(cmd.Context(), cfg.GoogleAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		defer client.Close()
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), client)
	},
}

type prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}

// runChat reads one prompt per line until EOF or "quit". A failed prompt is
// printed and the loop continues.
func runChat(ctx context.Context, in io.Reader, out io.Writer, p prompter) error {
	fmt.Fprintln(out, "Welcome to Gemini Chat! (Type 'quit' to exit)")
	fmt.Fprintln(out, strings.Repeat("-", 50))

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") {
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		}

		reply, err := p.Prompt(ctx, line)
		if err != nil {
			reply = "Error: " + err.Error()
		}
		fmt.Fprintln(out, "\nGemini:", reply)
		fmt.Fprintln(out, strings.Repeat("-", 50))
	}
}

var analyzeTextCmd = &cobra.Command{
	Use:   "analyze-text [file]",
	Short: "Run the invoice analysis on OCR text from a file or stdin",
	Long: `Sends the text to the configured Gemini backend with the invoice prompt
and prints the normalised fields as JSON. Nothing is written to the store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.NeedGemini); err != nil {
			return err
		}
		text, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		analyzer, err := services.OpenAnalyzer(ctx, cfg)
		if err != nil {
			return err
		}
		defer analyzer.Close()
		return analyzeText(ctx, cmd.OutOrStdout(), analyzer, text)
	},
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no OCR text given")
	}
	return text, nil
}

func analyzeText(ctx context.Context, out io.Writer, analyzer services.InvoiceAnalyzer, text string) error {
	reply, err := analyzer.Analyze(ctx, text)
	if err != nil {
		return err
	}
	analysis, err := services.ParseAnalysis(reply)
	if err != nil {
		return fmt.Errorf("%w\nraw reply: %s", err, reply)
	}
	analysis.Model = analyzer.Model()
	return printJSON(out, analysis)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
