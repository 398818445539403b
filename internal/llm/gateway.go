package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/callsage/internal/models"
)

const gatewayTimeout = 120 * time.Second

// GatewayModel talks to an OpenAI-compatible chat completions endpoint.
// Unlike the Anthropic backend it can forward call recordings as input_audio
// content parts.
type GatewayModel struct {
	url       string
	apiKey    string
	model     string
	maxTokens int
	http      *http.Client
}

// NewGatewayModel creates a gateway client for the given endpoint URL.
func NewGatewayModel(url, apiKey, model string, maxTokens int) *GatewayModel {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GatewayModel{
		url:       url,
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		http:      &http.Client{Timeout: gatewayTimeout},
	}
}

type gatewayRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []gatewayMessage `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Tools       []gatewayTool    `json:"tools,omitempty"`
	ToolChoice  any              `json:"tool_choice,omitempty"`
}

type gatewayMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type gatewayPart struct {
	Type       string             `json:"type"`
	Text       string             `json:"text,omitempty"`
	InputAudio *gatewayInputAudio `json:"input_audio,omitempty"`
}

type gatewayInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type gatewayTool struct {
	Type     string          `json:"type"`
	Function gatewayFunction `json:"function"`
}

type gatewayFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type gatewayResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke posts one chat completion request.
func (m *GatewayModel) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	body, err := json.Marshal(m.buildRequest(inv))
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	return parseGatewayResponse(raw, inv.Output)
}

func (m *GatewayModel) buildRequest(inv *Invocation) gatewayRequest {
	req := gatewayRequest{
		Model:       m.model,
		Temperature: inv.Temperature,
		MaxTokens:   m.maxTokens,
	}
	if inv.System != "" {
		req.Messages = append(req.Messages, gatewayMessage{Role: "system", Content: inv.System})
	}

	audioAttached := false
	for _, msg := range inv.Messages {
		if msg.Role == models.ChatRoleModel {
			req.Messages = append(req.Messages, gatewayMessage{Role: "assistant", Content: msg.Content})
			continue
		}
		if inv.Audio != nil && !audioAttached {
			audioAttached = true
			req.Messages = append(req.Messages, gatewayMessage{
				Role: "user",
				Content: []gatewayPart{
					{Type: "text", Text: msg.Content},
					{Type: "input_audio", InputAudio: &gatewayInputAudio{
						Data:   inv.Audio.Data,
						Format: audioFormat(inv.Audio.MIMEType),
					}},
				},
			})
			continue
		}
		req.Messages = append(req.Messages, gatewayMessage{Role: "user", Content: msg.Content})
	}

	tools := inv.Tools
	if inv.Output != nil {
		tools = append(append([]Tool{}, tools...), *inv.Output)
		req.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": inv.Output.Name},
		}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, gatewayTool{
			Type:     "function",
			Function: gatewayFunction{Name: t.Name, Description: t.Description, Parameters: t.Schema},
		})
	}
	return req
}

// parseGatewayResponse reads choices[0].message. When a forced output tool
// was requested but the gateway answered in plain text, the text is kept so
// the caller can try to recover JSON from it.
func parseGatewayResponse(raw []byte, output *Tool) (*Result, error) {
	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	res := &Result{}
	if len(resp.Choices) == 0 {
		return res, nil
	}
	msg := resp.Choices[0].Message
	res.Text = strings.TrimSpace(msg.Content)
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if output != nil && tc.Function.Name == output.Name {
			res.Structured = args
			continue
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
	}
	return res, nil
}

// audioFormat maps a MIME type onto the input_audio format name.
func audioFormat(mime string) string {
	switch {
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "mp3"
	default:
		return "wav"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
