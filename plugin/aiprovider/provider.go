// Package aiprovider abstracts the token-streaming completion provider. A
// provider call yields a sequence of incremental fragment events terminated
// by exactly one Done or Error event, which the streaming manager's dispatch
// loop consumes.
package aiprovider

import (
	"context"
	"fmt"
)

// Message is one prior conversation turn sent to the provider.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Request describes one completion call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Kind discriminates stream events.
type Kind int

const (
	KindReasoningDelta Kind = iota
	KindAnswerDelta
	KindDone
	KindError
)

// Source is an optional citation attached to a completion.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Completion is the terminal payload of a successful stream.
type Completion struct {
	Text      string
	Reasoning string
	Sources   []Source
}

// Event is one element of the provider stream. Exactly one terminal event
// (Done or Error) ends every stream; the channel is closed after it.
type Event struct {
	Kind  Kind
	Delta string      // reasoning/answer fragment
	Final *Completion // set on KindDone
	Err   error       // set on KindError
}

// Provider is the completion-provider contract consumed by request handlers.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// ProviderError carries the upstream HTTP status so the retry classifier
// can tell transient failures (5xx, 429, 408) from permanent ones.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the failure class is worth another attempt.
func (e *ProviderError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429 || e.Status == 408
}
