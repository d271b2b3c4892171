package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/retry"
)

const (
	defaultAPIBase      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	defaultModel        = "claude-sonnet-4-5"
)

// AnthropicProvider implements Generator using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	retry     retry.Config
	logger    zerolog.Logger
}

// AnthropicOption configures the provider.
type AnthropicOption func(*AnthropicProvider)

func WithModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.model = model }
}

func WithMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) { p.maxTokens = n }
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithRetryConfig overrides the backoff policy for transient API failures.
func WithRetryConfig(cfg retry.Config) AnthropicOption {
	return func(p *AnthropicProvider) { p.retry = cfg }
}

// NewAnthropicProvider constructs a new Anthropic provider.
func NewAnthropicProvider(apiKey string, logger zerolog.Logger, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:    apiKey,
		baseURL:   defaultAPIBase,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
		retry:     retry.DefaultConfig(),
		logger:    logger.With().Str("component", "llm").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) ModelID() string { return p.model }

// ---- Anthropic wire types ----

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []contentBlock
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildMessages converts []Message to []anthropicMessage, handling tool
// results and assistant tool-use turns.
func buildMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.ToolResult != nil:
			// Tool results go back as user messages with content blocks.
			block := map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": m.ToolResult.ToolUseID,
				"content":     m.ToolResult.Content,
			}
			if m.ToolResult.IsError {
				block["is_error"] = true
			}
			out = append(out, anthropicMessage{
				Role:    RoleUser,
				Content: []interface{}{block},
			})
		case m.ToolUse != nil:
			blocks := []interface{}{}
			if m.Content != "" {
				blocks = append(blocks, map[string]interface{}{
					"type": "text",
					"text": m.Content,
				})
			}
			blocks = append(blocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    m.ToolUse.ID,
				"name":  m.ToolUse.Name,
				"input": m.ToolUse.Input,
			})
			out = append(out, anthropicMessage{
				Role:    RoleAssistant,
				Content: blocks,
			})
		default:
			out = append(out, anthropicMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}
	}
	return out
}

func (p *AnthropicProvider) buildRequest(req Request, stream bool) anthropicRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	ar := anthropicRequest{
		Model:     model,
		MaxTokens: maxTok,
		System:    req.SystemPrompt,
		Messages:  buildMessages(req.Messages),
		Stream:    stream,
	}
	for _, t := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return ar
}

func (p *AnthropicProvider) doRequest(ctx context.Context, ar anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 429 || resp.StatusCode >= 500 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &apperr.APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return resp, nil
}

// doRequestRetry wraps doRequest in the provider's backoff policy. Safe for
// streaming too: the body has not been consumed until a request succeeds.
func (p *AnthropicProvider) doRequestRetry(ctx context.Context, ar anthropicRequest) (*http.Response, error) {
	var resp *http.Response
	err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		var err error
		resp, err = p.doRequest(ctx, ar)
		return err
	})
	return resp, err
}

// Complete sends a blocking generation request.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	ar := p.buildRequest(req, false)
	resp, err := p.doRequestRetry(ctx, ar)
	if err != nil {
		return nil, fmt.Errorf("anthropic http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var ar2 anthropicResponse
	if err := json.Unmarshal(raw, &ar2); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if ar2.Error != nil {
		return nil, fmt.Errorf("anthropic api error %s: %s", ar2.Error.Type, ar2.Error.Message)
	}

	out := &Response{
		StopReason:   ar2.StopReason,
		InputTokens:  ar2.Usage.InputTokens,
		OutputTokens: ar2.Usage.OutputTokens,
	}

	for _, block := range ar2.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolUse = &ToolUse{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			}
		}
	}

	p.logger.Debug().
		Str("model", ar.Model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("anthropic complete")
	return out, nil
}

// Stream sends a generation request and forwards text deltas to out.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, out chan<- Token) error {
	ar := p.buildRequest(req, true)
	resp, err := p.doRequestRetry(ctx, ar)
	if err != nil {
		return fmt.Errorf("anthropic stream http: %w", err)
	}

	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var ev struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Error *struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				select {
				case out <- Token{Text: ev.Delta.Text}:
				case <-ctx.Done():
					out <- Token{Error: ctx.Err()}
					return
				}
			case "message_stop":
				out <- Token{Done: true}
				return
			case "error":
				msg := "stream error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				out <- Token{Error: fmt.Errorf("anthropic stream: %s", msg)}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Token{Error: err}
			return
		}
		out <- Token{Done: true}
	}()

	return nil
}
