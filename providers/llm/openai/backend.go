// Package openai implements the generation backend on the official
// openai-go SDK, as an alternative to the Gemini backend. The chat
// completions API has no web-search tool or counting endpoint, so research
// runs unsearched and token counts fall back to a character heuristic.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/calmhollow/sleepscript/internal/llm"
)

// Config holds the connection settings for the OpenAI backend.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ConfigFromEnv reads SLEEPSCRIPT_OPENAI_API_KEY (falling back to
// OPENAI_API_KEY), SLEEPSCRIPT_OPENAI_MODEL, and
// SLEEPSCRIPT_OPENAI_BASE_URL.
func ConfigFromEnv() Config {
	key := os.Getenv("SLEEPSCRIPT_OPENAI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	model := os.Getenv("SLEEPSCRIPT_OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	return Config{
		APIKey:  key,
		BaseURL: os.Getenv("SLEEPSCRIPT_OPENAI_BASE_URL"),
		Model:   model,
	}
}

// Backend calls the chat completions API.
type Backend struct {
	client       openai.Client
	model        string
	instructions map[llm.Role]string
}

func New(cfg Config, narratorInstruction, structurerInstruction string) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Backend{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		instructions: map[llm.Role]string{
			llm.RoleResearch:   narratorInstruction,
			llm.RoleNarrator:   narratorInstruction,
			llm.RoleStructurer: structurerInstruction,
		},
	}, nil
}

// Generate performs one chat completion.
func (b *Backend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if instruction := b.instructions[req.Role]; instruction != "" {
		msgs = append(msgs, openai.SystemMessage(instruction))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(b.model),
		Messages:            msgs,
		Temperature:         openai.Float(req.Config.Temperature),
		TopP:                openai.Float(req.Config.TopP),
		MaxCompletionTokens: openai.Int(int64(req.Config.MaxOutputTokens)),
	}
	if req.Config.Format == llm.FormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, normalizeError(err)
	}

	usage := &llm.Usage{
		PromptTokens:    resp.Usage.PromptTokens,
		CandidateTokens: resp.Usage.CompletionTokens,
		TotalTokens:     resp.Usage.TotalTokens,
	}
	if len(resp.Choices) == 0 {
		return llm.Response{Blocked: true, BlockReason: "no choices returned", Usage: usage}, nil
	}

	choice := resp.Choices[0]
	return llm.Response{
		Text:         choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage:        usage,
	}, nil
}

// CountTokens estimates with the classic four-characters-per-token rule;
// the API exposes no counting endpoint. The estimate only feeds reporting,
// never budgets, and real calls carry exact usage metadata anyway.
func (b *Backend) CountTokens(_ context.Context, text string) (int64, error) {
	return int64(len(text)+3) / 4, nil
}

func normalizeError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &llm.StatusError{
			Code:    apiErr.StatusCode,
			Message: fmt.Sprintf("%s: %s", apiErr.Type, apiErr.Message),
		}
	}
	return err
}

func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishMaxTokens
	case "content_filter":
		return llm.FinishSafety
	default:
		return llm.FinishUnknown
	}
}
