package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// FakeResponse is one scripted reply from a FakeModel.
type FakeResponse struct {
	Result *Result
	Err    error
}

// FakeModel replays scripted responses in order and records every
// invocation. The last response repeats once the script runs out.
type FakeModel struct {
	mu          sync.Mutex
	responses   []FakeResponse
	invocations []Invocation
}

// NewFakeModel scripts the given responses.
func NewFakeModel(responses ...FakeResponse) *FakeModel {
	return &FakeModel{responses: responses}
}

// StructuredReply scripts a structured-output reply from any JSON-marshalable value.
func StructuredReply(v any) FakeResponse {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return FakeResponse{Result: &Result{Structured: data}}
}

// TextReply scripts a plain text reply.
func TextReply(text string) FakeResponse {
	return FakeResponse{Result: &Result{Text: text}}
}

// ToolReply scripts a reply that calls a tool with the given arguments.
func ToolReply(text, name string, args any) FakeResponse {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return FakeResponse{Result: &Result{Text: text, ToolCalls: []ToolCall{{Name: name, Arguments: data}}}}
}

// ErrorReply scripts a failure.
func ErrorReply(err error) FakeResponse {
	return FakeResponse{Err: err}
}

func (f *FakeModel) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invocations = append(f.invocations, *inv)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fake model: no scripted response")
	}
	idx := len(f.invocations) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.Result, r.Err
}

// Calls returns how many times Invoke ran.
func (f *FakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invocations)
}

// LastInvocation returns a copy of the most recent invocation, or nil.
func (f *FakeModel) LastInvocation() *Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.invocations) == 0 {
		return nil
	}
	inv := f.invocations[len(f.invocations)-1]
	return &inv
}
