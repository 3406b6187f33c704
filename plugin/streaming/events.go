package streaming

// Event names pushed through the realtime transport. Names and payload
// fields are part of the contract clients rely on.
const (
	EventStreamStart       = "stream-start"
	EventReasoningChunk    = "ai-reasoning-chunk"
	EventReasoningComplete = "ai-reasoning-complete"
	EventAnswerStart       = "ai-answer-start"
	EventStreamChunk       = "ai-stream-chunk"
	EventStreamComplete    = "ai-stream-complete"
	EventStreamError       = "ai-stream-error"
)

// Source is an optional citation carried on the completion event.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// StreamStartPayload announces a new streaming response in a channel.
type StreamStartPayload struct {
	SessionID string `json:"sessionId"`
	ThreadID  string `json:"threadId"`
}

// ReasoningChunkPayload carries a batched slice of reasoning text.
type ReasoningChunkPayload struct {
	SessionID            string `json:"sessionId"`
	Chunk                string `json:"chunk"`
	AccumulatedReasoning string `json:"accumulatedReasoning"`
}

// ReasoningCompletePayload carries the full reasoning trace once the
// session moves to the answering phase.
type ReasoningCompletePayload struct {
	SessionID      string `json:"sessionId"`
	FinalReasoning string `json:"finalReasoning"`
}

// AnswerStartPayload marks the beginning of the answer phase.
type AnswerStartPayload struct {
	SessionID string `json:"sessionId"`
}

// StreamChunkPayload carries a batched slice of answer text.
type StreamChunkPayload struct {
	SessionID       string `json:"sessionId"`
	Chunk           string `json:"chunk"`
	AccumulatedText string `json:"accumulatedText"`
	ChunkIndex      int    `json:"chunkIndex"`
}

// StreamCompletePayload is the terminal event of a successful stream.
type StreamCompletePayload struct {
	SessionID  string   `json:"sessionId"`
	FinalText  string   `json:"finalText"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Sources    []Source `json:"sources,omitempty"`
	DurationMs int64    `json:"durationMs"`
	ChunkCount int      `json:"chunkCount"`
}

// StreamErrorPayload is the terminal event of a failed or aborted stream.
type StreamErrorPayload struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}
