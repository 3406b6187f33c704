package store

// Room is a group-chat channel. Its tier drives quotas and model routing
// for every thread inside it.
type Room struct {
	ID        int32
	UID       string
	Title     string
	Tier      string // "free" | "plus" | "pro"
	CreatedTs int64
	UpdatedTs int64
}

// Thread is a conversation inside a room.
type Thread struct {
	ID        int32
	UID       string
	RoomID    int32
	Title     string
	CreatedTs int64
	UpdatedTs int64
}

// Message is a single message within a thread.
type Message struct {
	ID         int32
	ThreadID   int32
	SenderID   int32
	Role       string // "user" | "assistant"
	Content    string
	Model      string // model variant that produced an assistant message
	TokenCount int32
	CreatedTs  int64
}

// FindRoom filters room lookups.
type FindRoom struct {
	ID  *int32
	UID *string
}

// UpdateRoom carries the mutable room fields.
type UpdateRoom struct {
	UID   string
	Title *string
	Tier  *string
}

// FindThread filters thread lookups.
type FindThread struct {
	ID     *int32
	UID    *string
	RoomID *int32
}

// FindMessage filters message lookups.
type FindMessage struct {
	ThreadID int32
	Limit    *int
}

// CreateMessage is the payload for CreateMessage.
type CreateMessage struct {
	ThreadID   int32
	SenderID   int32
	Role       string
	Content    string
	Model      string
	TokenCount int32
}
