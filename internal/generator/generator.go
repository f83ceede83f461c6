// Package generator talks to the Gemini API: per-file stock metadata, trend scrapes
// and image-prompt ideas. Every call takes the credential to use.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/logger"
)

// request is one model call.
type request struct {
	op     string
	system string
	schema *genai.Schema
	parts  []genai.Part
}

type callFunc func(ctx context.Context, key string, req request) (string, error)

// Generator issues generation calls with a caller-supplied credential.
type Generator struct {
	model   string
	timeout time.Duration
	logger  *slog.Logger
	call    callFunc
}

// New creates a Generator backed by the Gemini API.
func New(cfg config.GeneratorConfig, log *slog.Logger) *Generator {
	g := &Generator{
		model:   cfg.Model,
		timeout: cfg.CallTimeout,
		logger:  log.With("component", "generator"),
	}
	g.call = g.callGemini
	return g
}

func (g *Generator) callGemini(ctx context.Context, key string, req request) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = req.schema

	resp, err := model.GenerateContent(ctx, req.parts...)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// generate runs one call under the per-call timeout and classifies its error.
func (g *Generator) generate(ctx context.Context, key string, req request) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: missing API key", ErrInvalidCredential)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.call(ctx, key, req)
	if err != nil {
		err = classify(err)
		g.logger.Warn("Generation call failed", "op", req.op, "key_suffix", logger.KeySuffix(key),
			"kind", Kind(err), "duration", time.Since(start), "error", err)
		return "", err
	}
	g.logger.Debug("Generation call succeeded", "op", req.op, "key_suffix", logger.KeySuffix(key), "duration", time.Since(start))
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func decode(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	// some models still wrap JSON in a fenced block
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), v); err != nil {
		return fmt.Errorf("invalid JSON from model: %w", err)
	}
	return nil
}
