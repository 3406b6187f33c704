package aiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestOpenRouterStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "openai/gpt-4o-mini", body.Model, "variant should map to the upstream slug")
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`{"choices":[{"delta":{"reasoning":"thinking"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`[DONE]`,
		}
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
		}
	}))
	defer srv.Close()

	p := NewOpenRouter("test-key", map[string]string{"parley/general-1": "openai/gpt-4o-mini"})
	p.baseURL = srv.URL

	ch, err := p.Stream(context.Background(), Request{Model: "parley/general-1", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 4)
	assert.Equal(t, Event{Kind: KindReasoningDelta, Delta: "thinking"}, events[0])
	assert.Equal(t, Event{Kind: KindAnswerDelta, Delta: "Hel"}, events[1])
	assert.Equal(t, Event{Kind: KindAnswerDelta, Delta: "lo"}, events[2])

	require.Equal(t, KindDone, events[3].Kind)
	assert.Equal(t, "Hello", events[3].Final.Text)
	assert.Equal(t, "thinking", events[3].Final.Reasoning)
}

func TestOpenRouterStatusErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", status)
	}))
	defer srv.Close()

	p := NewOpenRouter("test-key", nil)
	p.baseURL = srv.URL

	_, err := p.Stream(context.Background(), Request{Model: "m"})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusServiceUnavailable, provErr.Status)
	assert.True(t, provErr.Retryable())

	status = http.StatusBadRequest
	_, err = p.Stream(context.Background(), Request{Model: "m"})
	require.ErrorAs(t, err, &provErr)
	assert.False(t, provErr.Retryable(), "4xx other than 429/408 must not be retried")
}

func TestProviderErrorClassification(t *testing.T) {
	for status, want := range map[int]bool{500: true, 502: true, 429: true, 408: true, 400: false, 401: false, 404: false} {
		err := error(&ProviderError{Status: status})
		var r interface{ Retryable() bool }
		require.True(t, errors.As(err, &r))
		assert.Equal(t, want, r.Retryable(), "status %d", status)
	}
}
