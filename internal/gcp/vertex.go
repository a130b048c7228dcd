package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Invoice Analysis Prompts ---
const InvoiceAnalysisSystemPrompt = "You are an accounting assistant that reads OCR text of receipts and invoices collected during business trips. You extract structured expense data and you must output your response as a single valid JSON object."
const InvoiceAnalysisUserPrompt = `The text below was produced by OCR from a photo or scan of a receipt or invoice. It may contain recognition errors, broken lines and unrelated noise.

Extract the following fields and return them as one JSON object with exactly these keys:
- "totalAmount": the final amount paid including taxes, as a number. Use a dot as decimal separator.
- "taxAmount": the total VAT/sales tax amount as a number, or null if not shown.
- "currency": the ISO 4217 currency code (e.g. "EUR", "USD", "CHF").
- "invoiceDate": the date of the invoice in the format YYYY-MM-DD.
- "merchant": the name of the business that issued the invoice.
- "invoiceNumber": the invoice or receipt number, or null.
- "category": one of "accommodation", "transport", "meals", "fuel", "parking", "other".

Rules:
1. Use null for any value that cannot be determined. Never guess amounts.
2. If several totals appear, use the one labelled as the grand total or amount paid.
3. Do not include any text before or after the JSON object.

Example output format:
{
  "totalAmount": 42.50,
  "taxAmount": 6.79,
  "currency": "EUR",
  "invoiceDate": "2024-03-18",
  "merchant": "Hotel Alpenblick",
  "invoiceNumber": "R-2024-0113",
  "category": "accommodation"
}

OCR text:
`

// VertexClient holds the pre-configured invoice analysis model on Vertex AI.
type VertexClient struct {
	AnalysisModel *genai.GenerativeModel
	modelName     string
	baseClient    *genai.Client
}

// NewVertexClient creates a client holding the analysis model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	analysisModel := baseClient.GenerativeModel(modelName)
	analysisModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(InvoiceAnalysisSystemPrompt)},
	}
	analysisModel.GenerationConfig = genai.GenerationConfig{
		// JSON mode keeps the reply parseable; low temperature keeps it deterministic.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
		TopP:             genai.Ptr[float32](0.95),
		MaxOutputTokens:  genai.Ptr[int32](2048),
	}
	analysisModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
	}

	return &VertexClient{
		AnalysisModel: analysisModel,
		modelName:     modelName,
		baseClient:    baseClient,
	}, nil
}

// Model returns the model name recorded on each analysis.
func (c *VertexClient) Model() string { return c.modelName }

// Analyze sends the OCR text with the extraction prompt and returns the raw reply text.
func (c *VertexClient) Analyze(ctx context.Context, ocrText string) (string, error) {
	resp, err := c.AnalysisModel.GenerateContent(ctx, genai.Text(InvoiceAnalysisUserPrompt+ocrText))
	if err != nil {
		return "", fmt.Errorf("failed to generate analysis from gemini: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			reply.WriteString(string(txt))
		}
	}
	return reply.String(), nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
