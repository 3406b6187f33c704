package aiprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter streams chat completions from the OpenRouter OpenAI-compatible
// API, translating its SSE delta format into provider events.
type OpenRouter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	// models maps a routed variant id to the upstream model slug; variants
	// without an entry are sent through unchanged.
	models map[string]string
}

// NewOpenRouter creates a provider using the given API key. models may be
// nil.
func NewOpenRouter(apiKey string, models map[string]string) *OpenRouter {
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: defaultOpenRouterBaseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
		models:  models,
	}
}

func (p *OpenRouter) Name() string { return "openrouter" }

func (p *OpenRouter) upstreamModel(model string) string {
	if slug, ok := p.models[model]; ok {
		return slug
	}
	return model
}

// Stream opens the completion call and returns the event channel. A non-2xx
// response surfaces synchronously as *ProviderError so callers can wrap the
// whole call in retry/breaker.
func (p *OpenRouter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}

	body := map[string]any{
		"model":    p.upstreamModel(req.Model),
		"messages": messages,
		"stream":   true,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	bodyBytes, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "build completion request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "call completion provider")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProviderError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	ch := make(chan Event, 8)
	go p.consume(ctx, resp.Body, ch)
	return ch, nil
}

func (p *OpenRouter) consume(ctx context.Context, body io.ReadCloser, ch chan<- Event) {
	defer close(ch)
	defer body.Close()

	var answer, reasoning strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					Reasoning string `json:"reasoning"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Reasoning != "" {
				reasoning.WriteString(c.Delta.Reasoning)
				if !send(ctx, ch, Event{Kind: KindReasoningDelta, Delta: c.Delta.Reasoning}) {
					return
				}
			}
			if c.Delta.Content != "" {
				answer.WriteString(c.Delta.Content)
				if !send(ctx, ch, Event{Kind: KindAnswerDelta, Delta: c.Delta.Content}) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, ch, Event{Kind: KindError, Err: errors.Wrap(err, "read completion stream")})
		return
	}

	send(ctx, ch, Event{Kind: KindDone, Final: &Completion{
		Text:      answer.String(),
		Reasoning: reasoning.String(),
	}})
}

// send delivers an event unless the caller has gone away.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
