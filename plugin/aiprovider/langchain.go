package aiprovider

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
)

// LangChain adapts any langchaingo llms.Model into the Provider contract,
// turning its streaming callback into the event sequence the manager's
// dispatch loop expects. langchaingo models expose no reasoning trace, so
// streams from this provider go straight to the answering phase.
type LangChain struct {
	model llms.Model
	name  string
	// models maps a routed variant id to the upstream model slug; variants
	// without an entry are sent through unchanged.
	models map[string]string
}

// NewLangChain wraps a langchaingo model. models may be nil.
func NewLangChain(name string, model llms.Model, models map[string]string) *LangChain {
	return &LangChain{model: model, name: name, models: models}
}

func (p *LangChain) Name() string { return p.name }

func (p *LangChain) upstreamModel(model string) string {
	if slug, ok := p.models[model]; ok {
		return slug
	}
	return model
}

func (p *LangChain) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}

	opts := []llms.CallOption{llms.WithModel(p.upstreamModel(req.Model))}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	ch := make(chan Event, 8)
	go func() {
		defer close(ch)

		var sb strings.Builder
		streamOpts := append(opts, llms.WithStreamingFunc(func(cbCtx context.Context, chunk []byte) error {
			sb.Write(chunk)
			if !send(cbCtx, ch, Event{Kind: KindAnswerDelta, Delta: string(chunk)}) {
				return cbCtx.Err()
			}
			return nil
		}))

		resp, err := p.model.GenerateContent(ctx, msgs, streamOpts...)
		if err != nil {
			send(ctx, ch, Event{Kind: KindError, Err: errors.Wrap(err, "generate content")})
			return
		}

		text := sb.String()
		if text == "" && len(resp.Choices) > 0 {
			// Models without streaming support return everything at once.
			text = resp.Choices[0].Content
		}
		send(ctx, ch, Event{Kind: KindDone, Final: &Completion{Text: text}})
	}()
	return ch, nil
}
