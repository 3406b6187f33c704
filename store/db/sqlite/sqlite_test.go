package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/useparley/parley/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRoomCRUD(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	room, err := d.CreateRoom(ctx, &store.Room{UID: "room-1", Title: "Study group"})
	require.NoError(t, err)
	require.Equal(t, "room-1", room.UID)
	require.Equal(t, "free", room.Tier)
	require.NotZero(t, room.ID)

	newTitle, newTier := "Study group v2", "plus"
	updated, err := d.UpdateRoom(ctx, &store.UpdateRoom{UID: "room-1", Title: &newTitle, Tier: &newTier})
	require.NoError(t, err)
	require.Equal(t, "Study group v2", updated.Title)
	require.Equal(t, "plus", updated.Tier)

	missing, err := d.GetRoom(ctx, &store.FindRoom{UID: strPtr("nope")})
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, d.DeleteRoom(ctx, "room-1"))
	gone, err := d.GetRoom(ctx, &store.FindRoom{UID: strPtr("room-1")})
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestThreadAndMessageFlow(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	room, err := d.CreateRoom(ctx, &store.Room{UID: "room-1", Title: "General"})
	require.NoError(t, err)
	thread, err := d.CreateThread(ctx, &store.Thread{UID: "thread-1", RoomID: room.ID, Title: "Homework"})
	require.NoError(t, err)
	require.Equal(t, room.ID, thread.RoomID)

	first, err := d.CreateMessage(ctx, &store.CreateMessage{
		ThreadID: thread.ID, SenderID: 7, Role: "user", Content: "hi",
	})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	_, err = d.CreateMessage(ctx, &store.CreateMessage{
		ThreadID: thread.ID, Role: "assistant", Content: "hello", Model: "parley/general-1", TokenCount: 3,
	})
	require.NoError(t, err)

	messages, err := d.ListMessages(ctx, &store.FindMessage{ThreadID: thread.ID})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "hi", messages[0].Content)
	require.Equal(t, "parley/general-1", messages[1].Model)

	count, err := d.CountThreadMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, int32(2), count)
}

func TestCascadeDelete(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	room, err := d.CreateRoom(ctx, &store.Room{UID: "room-1", Title: "General"})
	require.NoError(t, err)
	thread, err := d.CreateThread(ctx, &store.Thread{UID: "thread-1", RoomID: room.ID, Title: "T"})
	require.NoError(t, err)
	_, err = d.CreateMessage(ctx, &store.CreateMessage{ThreadID: thread.ID, Role: "user", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, d.DeleteRoom(ctx, "room-1"))

	threads, err := d.ListThreads(ctx, &store.FindThread{RoomID: &room.ID})
	require.NoError(t, err)
	require.Empty(t, threads)
	count, err := d.CountThreadMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUsageCounterUpsert(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)

	count, err := d.GetUsageCount(ctx, "room:abc", "messages", "hour", 1000)
	require.NoError(t, err)
	require.Zero(t, count)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.IncrementUsageCounter(ctx, "room:abc", "messages", "hour", 1000))
	}
	count, err = d.GetUsageCount(ctx, "room:abc", "messages", "hour", 1000)
	require.NoError(t, err)
	require.Equal(t, int32(3), count)

	// Different windows and scopes stay isolated.
	count, err = d.GetUsageCount(ctx, "room:abc", "messages", "hour", 4600)
	require.NoError(t, err)
	require.Zero(t, count)
	count, err = d.GetUsageCount(ctx, "room:other", "messages", "hour", 1000)
	require.NoError(t, err)
	require.Zero(t, count)
}

func strPtr(s string) *string { return &s }
