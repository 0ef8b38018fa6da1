package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

var errEmptyCandidate = errors.New("model returned no candidates")

// GeminiClient calls the Gemini API directly with a structured response schema.
type GeminiClient struct {
	client *genai.Client
	model  string
	schema *genai.Schema
	logger *slog.Logger
}

// NewGeminiClient builds a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoGateway)
	}
	if model == "" {
		model = DefaultConfig().Model
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	logger.Info("Gemini gateway configured", "model", model)
	return &GeminiClient{
		client: client,
		model:  model,
		schema: genaiSchema(ResponseSchema()),
		logger: logger,
	}, nil
}

// Generate returns the raw JSON text produced by the model.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   g.schema,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(req.History), cfg)
	if err != nil {
		return "", &GatewayError{Provider: "gemini", Op: "generate", Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &GatewayError{Provider: "gemini", Op: "generate", Err: errEmptyCandidate}
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// Close is a no-op; the genai client holds no long-lived connection.
func (g *GeminiClient) Close() error { return nil }

func geminiContents(history []HistoryEntry) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, entry := range history {
		role := genai.Role(genai.RoleUser)
		if entry.Role == RolePersona {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(entry.Text, role))
	}
	return contents
}
