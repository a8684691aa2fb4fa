package anthropic_provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mohammad-safakhou/urska/provider"
)

const defaultMaxTokens = 4096

// Options configures the client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Client talks to the Anthropic Messages API.
type Client struct {
	api  anthropic.Client
	opts Options
}

// New creates a new Anthropic client
func New(opts Options) *Client {
	var ro []option.RequestOption
	if opts.APIKey != "" {
		ro = append(ro, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		ro = append(ro, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.MaxRetries > 0 {
		ro = append(ro, option.WithMaxRetries(opts.MaxRetries))
	}
	return &Client{api: anthropic.NewClient(ro...), opts: opts}
}

// Chat implements provider.Provider.
func (c *Client) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	model := req.Model
	if model == "" {
		model = c.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system, messages := toMessages(req.Messages)
	if req.Schema != nil {
		system = append(system, anthropic.TextBlockParam{
			Text: "Respond with a single JSON document and nothing else. It must match this JSON Schema:\n" + string(req.Schema.Definition),
		})
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  messages,
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = anthropic.Float(t)
	} else if c.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(c.opts.Temperature)
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: inputSchema(tool.Parameters),
			},
		})
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, fmt.Errorf("anthropic messages: %w", err)
	}
	out := provider.Response{
		Model: string(resp.Model),
		Usage: provider.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// toMessages splits system prompts out and folds consecutive tool results into
// one user turn, which is what the Messages API expects.
func toMessages(in []provider.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system  []anthropic.TextBlockParam
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}
	for _, m := range in {
		switch m.Role {
		case provider.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case provider.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case provider.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return system, out
}

func inputSchema(raw json.RawMessage) anthropic.ToolInputSchemaParam {
	var doc struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &doc)
	}
	if doc.Properties == nil {
		doc.Properties = map[string]any{}
	}
	return anthropic.ToolInputSchemaParam{Properties: doc.Properties, Required: doc.Required}
}
