package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerRoundTripKeepsOrder(t *testing.T) {
	store := openTestBadger(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		msg := chat.Message{
			ID:        fmt.Sprintf("id-%d", i),
			SessionID: "s1",
			Role:      chat.RoleUser,
			Content:   fmt.Sprintf("msg-%d", i),
			Timestamp: time.Now().UTC(),
		}
		require.NoError(t, store.Append(ctx, uint64(i), msg))
	}

	messages, maxSeq, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 12)
	assert.Equal(t, uint64(12), maxSeq)
	for i, msg := range messages {
		// Sequence 10+ sorting after 2-9 proves the big-endian key layout.
		assert.Equal(t, fmt.Sprintf("msg-%d", i+1), msg.Content)
	}
}

func TestBadgerSessionsAreIsolated(t *testing.T) {
	store := openTestBadger(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, 1, chat.Message{ID: "a", SessionID: "s1", Role: chat.RoleUser, Content: "one"}))
	require.NoError(t, store.Append(ctx, 1, chat.Message{ID: "b", SessionID: "s2", Role: chat.RoleUser, Content: "two"}))

	s1, _, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s1, 1)
	assert.Equal(t, "one", s1[0].Content)
}

func TestBadgerClear(t *testing.T) {
	store := openTestBadger(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, 1, chat.Message{ID: "a", SessionID: "s1", Role: chat.RoleUser, Content: "one"}))
	require.NoError(t, store.Clear(ctx, "s1"))

	messages, maxSeq, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Zero(t, maxSeq)
}

func TestBadgerLoadEmptySession(t *testing.T) {
	store := openTestBadger(t)

	messages, maxSeq, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Zero(t, maxSeq)
}
