package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatlink/pkg/realtime"
)

const selfID int64 = 3

func msg(id, sender int64, createdAt int64) realtime.Message {
	receiver := selfID
	if sender == selfID {
		receiver = 7
	}
	return realtime.Message{
		ID:          id,
		SenderID:    sender,
		ReceiverID:  receiver,
		MessageType: realtime.MessageText,
		Content:     "m",
		CreatedAt:   createdAt,
	}
}

func TestLoadHistory_SortsByCreatedAtThenID(t *testing.T) {
	store := NewStore(selfID, nil)

	store.LoadHistory(7, []realtime.Message{
		msg(5, 7, 500),
		msg(1, 3, 100),
		msg(4, 7, 300), // same timestamp as id 3, higher id
		msg(3, 3, 300),
		msg(2, 7, 200),
	})

	got := store.Messages(7)
	ids := make([]int64, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestLoadHistory_ReplacesPreviousState(t *testing.T) {
	store := NewStore(selfID, nil)

	store.LoadHistory(7, []realtime.Message{msg(1, 7, 100)})
	store.LoadHistory(7, []realtime.Message{msg(2, 7, 200)})

	got := store.Messages(7)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)
}

func TestApplyLive_Idempotent(t *testing.T) {
	store := NewStore(selfID, nil)

	first := store.ApplyLive(7, msg(101, 7, 100))
	second := store.ApplyLive(7, msg(101, 7, 100))
	third := store.ApplyLive(7, msg(101, 7, 100))

	require.True(t, first)
	require.False(t, second)
	require.False(t, third)
	require.Len(t, store.Messages(7), 1)
}

func TestApplyLive_OrderIndependentWithHistoryLoad(t *testing.T) {
	// A live message can land before the history fetch completes; loading
	// history afterwards replaces state, and re-applying the live message
	// dedups.
	store := NewStore(selfID, nil)

	live := msg(101, 7, 400)
	store.ApplyLive(7, live)
	store.LoadHistory(7, []realtime.Message{msg(100, 7, 300), live})

	got := store.Messages(7)
	require.Len(t, got, 2)
	require.Equal(t, int64(100), got[0].ID)
	require.Equal(t, int64(101), got[1].ID)
}

func TestApplyLive_TimestampTieKeepsArrivalOrder(t *testing.T) {
	store := NewStore(selfID, nil)

	store.ApplyLive(7, msg(200, 7, 100))
	store.ApplyLive(7, msg(150, 7, 100)) // same timestamp, lower id, arrived later

	got := store.Messages(7)
	require.Equal(t, int64(200), got[0].ID)
	require.Equal(t, int64(150), got[1].ID)
}

func TestApplySent_ThenLiveEchoIsDropped(t *testing.T) {
	store := NewStore(selfID, nil)

	sent := msg(102, selfID, 100)
	require.True(t, store.ApplySent(7, sent))
	require.False(t, store.ApplyLive(7, sent), "live echo must dedup")

	require.Len(t, store.Messages(7), 1)
}

func TestRemove_DeletesLocallyOnly(t *testing.T) {
	store := NewStore(selfID, nil)
	store.LoadHistory(7, []realtime.Message{msg(1, 7, 100), msg(2, 7, 200)})

	require.True(t, store.Remove(7, 1))
	require.False(t, store.Remove(7, 1))
	require.False(t, store.Remove(7, 999))

	got := store.Messages(7)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)
}

func TestMessages_ReturnsACopy(t *testing.T) {
	store := NewStore(selfID, nil)
	store.LoadHistory(7, []realtime.Message{msg(1, 7, 100)})

	snapshot := store.Messages(7)
	snapshot[0].Content = "mutated"

	require.Equal(t, "m", store.Messages(7)[0].Content)
}

func TestUnreadCount_CountsOnlyUnreadPeerMessages(t *testing.T) {
	store := NewStore(selfID, nil)
	read := msg(4, 7, 400)
	read.IsRead = true
	store.LoadHistory(7, []realtime.Message{
		msg(1, 7, 100),
		msg(2, 7, 200),
		msg(3, 7, 300),
		read,
		msg(5, selfID, 500),
		msg(6, selfID, 600),
	})

	require.Equal(t, 3, store.UnreadCount(7))
}

func TestTotalUnread_SumsAllConversations(t *testing.T) {
	store := NewStore(selfID, nil)
	store.LoadHistory(7, []realtime.Message{msg(1, 7, 100), msg(2, 7, 200)})
	store.LoadHistory(9, []realtime.Message{{
		ID: 3, SenderID: 9, ReceiverID: selfID, CreatedAt: 300,
	}})

	require.Equal(t, 3, store.TotalUnread())
	require.Equal(t, []int64{7, 9}, store.Conversations())
}

type mockPersister struct {
	called chan int64
	err    error
}

func (m *mockPersister) MarkRead(_ context.Context, peerID int64) error {
	m.called <- peerID
	return m.err
}

func TestMarkConversationRead_LocalThenPersist(t *testing.T) {
	persister := &mockPersister{called: make(chan int64, 1)}
	store := NewStore(selfID, persister)
	store.LoadHistory(7, []realtime.Message{
		msg(1, 7, 100),
		msg(2, 7, 200),
		msg(3, selfID, 300),
	})

	store.MarkConversationRead(context.Background(), 7)

	require.Zero(t, store.UnreadCount(7), "local optimistic update is immediate")
	select {
	case peer := <-persister.called:
		require.Equal(t, int64(7), peer)
	case <-time.After(time.Second):
		t.Fatal("persister never called")
	}

	// Our own messages keep their read flag untouched.
	for _, m := range store.Messages(7) {
		if m.SenderID == selfID {
			require.False(t, m.IsRead)
		}
	}
}

type ctxPersister struct {
	errs chan error
}

func (p *ctxPersister) MarkRead(ctx context.Context, _ int64) error {
	p.errs <- ctx.Err()
	return nil
}

func TestMarkConversationRead_PersistOutlivesCallerContext(t *testing.T) {
	persister := &ctxPersister{errs: make(chan error, 1)}
	store := NewStore(selfID, persister)
	store.LoadHistory(7, []realtime.Message{msg(1, 7, 100)})

	ctx, cancel := context.WithCancel(context.Background())
	store.MarkConversationRead(ctx, 7)
	cancel() // request scope ends before the persist runs

	select {
	case err := <-persister.errs:
		require.NoError(t, err, "persist must not observe the caller's cancellation")
	case <-time.After(time.Second):
		t.Fatal("persister never called")
	}
}

func TestMarkConversationRead_NoChangesSkipsPersist(t *testing.T) {
	persister := &mockPersister{called: make(chan int64, 1)}
	store := NewStore(selfID, persister)
	store.LoadHistory(7, []realtime.Message{msg(1, selfID, 100)})

	store.MarkConversationRead(context.Background(), 7)

	select {
	case <-persister.called:
		t.Fatal("nothing to persist")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkMessageRead_FlipsSingleMessage(t *testing.T) {
	store := NewStore(selfID, nil)
	store.LoadHistory(7, []realtime.Message{msg(10, selfID, 100), msg(11, selfID, 200)})

	store.MarkMessageRead(7, 10)

	got := store.Messages(7)
	require.True(t, got[0].IsRead)
	require.False(t, got[1].IsRead)
}

func TestUnreadCount_EmptyConversation(t *testing.T) {
	store := NewStore(selfID, nil)
	require.Zero(t, store.UnreadCount(7))
	require.Zero(t, store.TotalUnread())
	require.Empty(t, store.Messages(7))
}
