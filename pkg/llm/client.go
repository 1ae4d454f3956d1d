// Package llm wraps the Anthropic API behind a structured-generation
// interface: one prompt in, one schema-conforming JSON document out, with
// independent token accounting per call so concurrent fan-out items can be
// summed into a run's additive counters.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sheetpipe/sheetpipe/internal/resilience"
)

// Client defines the text-generation operations used by the pipeline.
type Client interface {
	// GenerateStructured asks the model to produce a JSON document matching
	// the request's schema. Safe for concurrent use.
	GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)
}

// StructuredRequest describes one structured generation call. The schema is
// enforced through a forced tool call so the model cannot reply with prose.
type StructuredRequest struct {
	System     string
	Prompt     string
	SchemaName string         // tool name, e.g. "record_sheet_analysis"
	Properties map[string]any // JSON-schema properties of the output object
	Required   []string
	MaxTokens  int64
}

// Usage tracks token consumption for a single call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// StructuredResponse carries the parsed output object plus token accounting.
type StructuredResponse struct {
	JSON  json.RawMessage
	Usage Usage
}

// Decode unmarshals the response JSON into dst.
func (r *StructuredResponse) Decode(dst any) error {
	return eris.Wrap(json.Unmarshal(r.JSON, dst), "llm: decode structured output")
}

// Config tunes the SDK-backed client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	RPS       float64 // requests per second across all concurrent callers
	Retry     resilience.RetryConfig
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client  sdk.Client
	model   string
	max     int64
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates an Anthropic-backed structured generation client.
func NewClient(cfg Config) Client {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	max := cfg.MaxTokens
	if max <= 0 {
		max = 8192
	}
	return &sdkClient{
		client:  sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		max:     max,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   cfg.Retry,
	}
}

func (c *sdkClient) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	if req.SchemaName == "" {
		return nil, eris.New("llm: schema name is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.max
	}

	tool := sdk.ToolParam{
		Name:        req.SchemaName,
		Description: sdk.String("Record the structured result."),
		InputSchema: sdk.ToolInputSchemaParam{
			Properties: req.Properties,
			Required:   req.Required,
		},
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
		Tools: []sdk.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: req.SchemaName},
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := resilience.DoVal(ctx, c.retry, "llm.generate", func(ctx context.Context) (*sdk.Message, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "llm: rate limiter")
		}
		m, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classify(err)
		}
		return m, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: create message")
	}

	out, err := extractToolInput(msg, req.SchemaName)
	if err != nil {
		return nil, err
	}

	return &StructuredResponse{
		JSON: out,
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

// extractToolInput pulls the forced tool call's input object out of the
// response, falling back to a fenced-JSON text block if the model replied
// with prose anyway.
func extractToolInput(msg *sdk.Message, name string) (json.RawMessage, error) {
	for _, block := range msg.Content {
		if tu, ok := block.AsAny().(sdk.ToolUseBlock); ok && tu.Name == name {
			raw, err := json.Marshal(tu.Input)
			if err != nil {
				return nil, eris.Wrap(err, "llm: encode tool input")
			}
			return raw, nil
		}
	}

	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			if raw := fencedJSON(tb.Text); raw != nil {
				return raw, nil
			}
		}
	}

	return nil, eris.Errorf("llm: no %s tool call in response (stop_reason=%s)", name, msg.StopReason)
}

// fencedJSON extracts the first JSON object from text, tolerating markdown
// code fences.
func fencedJSON(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}
	candidate := json.RawMessage(text[start : end+1])
	if !json.Valid(candidate) {
		return nil
	}
	return candidate
}

// classify marks retryable SDK errors as transient so the retry wrapper
// backs off on rate limits and server errors.
func classify(err error) error {
	var apiErr *sdk.Error
	if eris.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
