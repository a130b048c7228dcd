package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiAPIClient talks to the Gemini API with an API key instead of Vertex AI
// project credentials. It is used for local development and by invoicectl.
type GeminiAPIClient struct {
	client     *genai.Client
	model      string
	config     *genai.GenerateContentConfig
	chatConfig *genai.GenerateContentConfig
}

// ModelInfo describes one model visible to the API key.
type ModelInfo struct {
	Name             string
	DisplayName      string
	Description      string
	InputTokenLimit  int32
	OutputTokenLimit int32
	Actions          []string
}

func NewGeminiAPIClient(ctx context.Context, apiKey, model string) (*GeminiAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for the Gemini API backend")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiAPIClient{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(InvoiceAnalysisSystemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.1),
			TopP:              genai.Ptr[float32](0.95),
			TopK:              genai.Ptr[float32](40),
			MaxOutputTokens:   2048,
			SafetySettings:    safetySettings,
		},
		chatConfig: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.7),
			TopP:            genai.Ptr[float32](0.95),
			TopK:            genai.Ptr[float32](40),
			MaxOutputTokens: 2048,
			SafetySettings:  safetySettings,
		},
	}, nil
}

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

func (c *GeminiAPIClient) Model() string { return c.model }

// Analyze sends the OCR text with the extraction prompt and returns the raw reply text.
func (c *GeminiAPIClient) Analyze(ctx context.Context, ocrText string) (string, error) {
	return c.generate(ctx, InvoiceAnalysisUserPrompt+ocrText, c.config)
}

// Prompt sends a free-form prompt without the invoice instructions. invoicectl
// chat uses it to try out models and prompts.
func (c *GeminiAPIClient) Prompt(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, c.chatConfig)
}

func (c *GeminiAPIClient) generate(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			reply.WriteString(part.Text)
		}
	}
	return reply.String(), nil
}

// ListModels returns every model the API key can see.
func (c *GeminiAPIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out []ModelInfo
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		out = append(out, ModelInfo{
			Name:             m.Name,
			DisplayName:      m.DisplayName,
			Description:      m.Description,
			InputTokenLimit:  m.InputTokenLimit,
			OutputTokenLimit: m.OutputTokenLimit,
			Actions:          m.SupportedActions,
		})
	}
	return out, nil
}

// Close is a no-op; the GenAI client holds no resources that need releasing.
func (c *GeminiAPIClient) Close() error { return nil }

// IsPermanentGeminiError reports whether a failed Gemini call cannot succeed
// on retry: a rejected request, bad credentials or an unknown model. It
// understands the HTTP errors of the GenAI SDK and the gRPC status errors of
// the Vertex AI SDK.
func IsPermanentGeminiError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.FailedPrecondition:
		return true
	}
	return false
}
