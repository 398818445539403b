// Package llm is the boundary to the hosted language model: one Invoke
// operation that takes a prompt, an optional audio attachment, an optional
// structured-output schema and optional tools.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/joescharf/callsage/internal/models"
)

// Message is one conversational turn sent to the model.
type Message struct {
	Role    models.ChatRole
	Content string
}

// Tool is a function the model may call. Schema is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Invocation is a single request to the model.
type Invocation struct {
	System   string
	Messages []Message
	// Audio is attached to the first user message.
	Audio *models.AudioPayload
	// Output forces a structured reply shaped by the tool's schema. The
	// arguments land in Result.Structured.
	Output *Tool
	Tools  []Tool
	// Temperature is left to the provider default when nil.
	Temperature *float64
}

// ToolCall is a tool invocation emitted by the model.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Result is what the model returned. Any field may be empty.
type Result struct {
	Text       string
	Structured json.RawMessage
	ToolCalls  []ToolCall
}

// Model is anything that can answer an Invocation.
type Model interface {
	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider       string // anthropic|gateway
	AnthropicKey   string
	AnthropicModel string
	GatewayURL     string
	GatewayKey     string
	GatewayModel   string
	MaxTokens      int
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		return NewAnthropicModel(cfg.AnthropicKey, cfg.AnthropicModel, cfg.MaxTokens), nil
	case "gateway":
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("gateway.url is required for the gateway provider")
		}
		return NewGatewayModel(cfg.GatewayURL, cfg.GatewayKey, cfg.GatewayModel, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or gateway)", cfg.Provider)
	}
}

// Provider hands out one process-wide Model, built on first use.
type Provider struct {
	once    sync.Once
	factory func() (Model, error)
	model   Model
	err     error
}

// NewProvider wraps a factory. The factory runs at most once.
func NewProvider(factory func() (Model, error)) *Provider {
	return &Provider{factory: factory}
}

// Model returns the shared model, building it on the first call.
func (p *Provider) Model() (Model, error) {
	p.once.Do(func() {
		p.model, p.err = p.factory()
	})
	return p.model, p.err
}

// Invoke lets a Provider stand in wherever a Model is expected.
func (p *Provider) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	m, err := p.Model()
	if err != nil {
		return nil, fmt.Errorf("initialise model: %w", err)
	}
	return m.Invoke(ctx, inv)
}
