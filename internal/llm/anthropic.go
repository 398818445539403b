package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/models"
)

const defaultMaxTokens = 4096

// AnthropicModel answers invocations through the Anthropic Messages API.
// Structured output is obtained by forcing a call to the Output tool.
type AnthropicModel struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int
}

// NewAnthropicModel creates a client with the given API key and model. An
// empty key falls back to ANTHROPIC_API_KEY via the SDK defaults.
func NewAnthropicModel(apiKey, model string, maxTokens int) *AnthropicModel {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicModel{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

// Invoke sends the invocation and collects text and tool-use blocks.
func (m *AnthropicModel) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv.Audio != nil {
		return nil, apperr.Invalid("audio", "the anthropic provider cannot listen to recordings; set llm.provider to gateway or supply a transcript")
	}

	params := anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: int64(m.maxTokens),
		Messages:  toAnthropicMessages(inv.Messages),
	}
	if inv.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: inv.System},
		}
	}
	if inv.Temperature != nil {
		params.Temperature = anthropic.Float(*inv.Temperature)
	}

	tools := inv.Tools
	if inv.Output != nil {
		tools = append(append([]Tool{}, tools...), *inv.Output)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: inv.Output.Name},
		}
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema(t.Schema),
			},
		})
	}

	msg, err := m.api.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	res := &Result{}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if inv.Output != nil && block.Name == inv.Output.Name {
				res.Structured = block.Input
				continue
			}
			res.ToolCalls = append(res.ToolCalls, ToolCall{Name: block.Name, Arguments: block.Input})
		}
	}
	res.Text = strings.TrimSpace(text.String())
	return res, nil
}

// toAnthropicMessages maps chat turns onto user/assistant messages. The API
// requires the conversation to open with a user turn, so leading model turns
// are dropped. Blank turns are skipped since the API rejects empty text blocks.
func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == models.ChatRoleModel {
			if len(out) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
	}
	return out
}

// inputSchema converts a reflected JSON Schema object into the SDK's tool input schema.
func inputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	p := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
	p.Required = requiredFields(schema)
	return p
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
