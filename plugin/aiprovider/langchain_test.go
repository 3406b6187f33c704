package aiprovider

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	chunks []string
	err    error
	opts   llms.CallOptions
	msgs   []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, o := range options {
		o(&m.opts)
	}
	m.msgs = messages
	if m.err != nil {
		return nil, m.err
	}
	var sb strings.Builder
	for _, c := range m.chunks {
		sb.WriteString(c)
		if m.opts.StreamingFunc != nil {
			if err := m.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: sb.String()}}}, nil
}

func (m *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestLangChainStream(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hel", "lo"}}
	p := NewLangChain("fake", model, map[string]string{"parley/general-1": "gpt-4o-mini"})

	ch, err := p.Stream(context.Background(), Request{
		Model:  "parley/general-1",
		System: "be brief",
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: KindAnswerDelta, Delta: "Hel"}, events[0])
	assert.Equal(t, Event{Kind: KindAnswerDelta, Delta: "lo"}, events[1])
	require.Equal(t, KindDone, events[2].Kind)
	assert.Equal(t, "Hello", events[2].Final.Text)

	assert.Equal(t, "gpt-4o-mini", model.opts.Model)
	assert.Equal(t, 64, model.opts.MaxTokens)
	require.Len(t, model.msgs, 4, "system plus three turns")
	assert.Equal(t, llms.ChatMessageTypeSystem, model.msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.msgs[2].Role)
}

func TestLangChainStreamError(t *testing.T) {
	model := &fakeModel{err: errors.New("model unavailable")}
	p := NewLangChain("fake", model, nil)

	ch, err := p.Stream(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindError, events[0].Kind)
	assert.ErrorContains(t, events[0].Err, "model unavailable")
}
