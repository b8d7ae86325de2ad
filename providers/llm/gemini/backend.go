// Package gemini implements the generation backend on the Gemini
// generateContent and countTokens HTTP endpoints.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/calmhollow/sleepscript/internal/llm"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// Config holds the connection settings for the Gemini backend.
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// ConfigFromEnv reads SLEEPSCRIPT_GEMINI_API_KEY (falling back to
// GEMINI_API_KEY), SLEEPSCRIPT_GEMINI_MODEL, and
// SLEEPSCRIPT_GEMINI_ENDPOINT.
func ConfigFromEnv() Config {
	key := os.Getenv("SLEEPSCRIPT_GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	return Config{
		APIKey:   key,
		Endpoint: defaultString(os.Getenv("SLEEPSCRIPT_GEMINI_ENDPOINT"), defaultEndpoint),
		Model:    defaultString(os.Getenv("SLEEPSCRIPT_GEMINI_MODEL"), "gemini-1.5-pro-latest"),
		Timeout:  120 * time.Second,
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Backend calls the Gemini REST API.
type Backend struct {
	cfg          Config
	http         *http.Client
	instructions map[llm.Role]string
}

// New builds a Backend. The narrator instruction also covers research
// calls; the structurer instruction covers planning calls.
func New(cfg Config, narratorInstruction, structurerInstruction string) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Backend{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		instructions: map[llm.Role]string{
			llm.RoleResearch:   narratorInstruction,
			llm.RoleNarrator:   narratorInstruction,
			llm.RoleStructurer: structurerInstruction,
		},
	}, nil
}

// blockNoneSafety disables response filtering across the harm categories.
// Long factual-history narration trips the default thresholds often enough
// that filtering is a runtime policy decision, not a per-call one.
func blockNoneSafety() []map[string]string {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	out := make([]map[string]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, map[string]string{"category": c, "threshold": "BLOCK_NONE"})
	}
	return out
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate performs one generateContent call.
func (b *Backend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	generationConfig := map[string]any{
		"temperature":     req.Config.Temperature,
		"topP":            req.Config.TopP,
		"topK":            req.Config.TopK,
		"maxOutputTokens": req.Config.MaxOutputTokens,
	}
	if req.Config.Format == llm.FormatJSON {
		generationConfig["responseMimeType"] = "application/json"
	}

	body := map[string]any{
		"contents": []map[string]any{{
			"role":  "user",
			"parts": []map[string]any{{"text": req.Prompt}},
		}},
		"generationConfig": generationConfig,
		"safetySettings":   blockNoneSafety(),
	}
	if instruction := b.instructions[req.Role]; instruction != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": instruction}},
		}
	}
	if req.EnableSearch {
		body["tools"] = []map[string]any{{"google_search": map[string]any{}}}
	}

	var decoded generateResponse
	if err := b.post(ctx, "generateContent", body, &decoded); err != nil {
		return llm.Response{}, err
	}

	var usage *llm.Usage
	if decoded.UsageMetadata != nil {
		usage = &llm.Usage{
			PromptTokens:    decoded.UsageMetadata.PromptTokenCount,
			CandidateTokens: decoded.UsageMetadata.CandidatesTokenCount,
			TotalTokens:     decoded.UsageMetadata.TotalTokenCount,
		}
	}

	if len(decoded.Candidates) == 0 {
		return llm.Response{
			Blocked:     true,
			BlockReason: decoded.PromptFeedback.BlockReason,
			Usage:       usage,
		}, nil
	}

	candidate := decoded.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	return llm.Response{
		Text:         text.String(),
		FinishReason: mapFinishReason(candidate.FinishReason),
		Usage:        usage,
	}, nil
}

// CountTokens invokes the countTokens endpoint.
func (b *Backend) CountTokens(ctx context.Context, text string) (int64, error) {
	body := map[string]any{
		"contents": []map[string]any{{
			"role":  "user",
			"parts": []map[string]any{{"text": text}},
		}},
	}
	var decoded struct {
		TotalTokens int64 `json:"totalTokens"`
	}
	if err := b.post(ctx, "countTokens", body, &decoded); err != nil {
		return 0, err
	}
	return decoded.TotalTokens, nil
}

func (b *Backend) post(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gemini: encode %s request: %w", method, err)
	}
	url := fmt.Sprintf("%s/%s:%s?key=%s", b.cfg.Endpoint, b.cfg.Model, method, b.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gemini: build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini: %s call: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gemini: read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &llm.StatusError{Code: resp.StatusCode, Message: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gemini: decode %s response: %w", method, err)
	}
	return nil
}

func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "STOP":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishMaxTokens
	case "SAFETY":
		return llm.FinishSafety
	case "":
		return llm.FinishUnknown
	default:
		return llm.FinishUnknown
	}
}
