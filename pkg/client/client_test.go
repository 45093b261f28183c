package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatlink/pkg/presence"
	"chatlink/pkg/realtime"
)

// mockAPI is an in-memory stand-in for the REST collaborator.
type mockAPI struct {
	history    []realtime.Message
	historyErr error
	nextID     int64
	sendErr    error
	markReadCh chan int64
	deleted    []int64
	deleteErr  error
	statuses   []presence.Entry
}

func newMockAPI() *mockAPI {
	return &mockAPI{nextID: 100, markReadCh: make(chan int64, 4)}
}

func (m *mockAPI) History(_ context.Context, _ int64, _, _ int) ([]realtime.Message, error) {
	return m.history, m.historyErr
}

func (m *mockAPI) sendMessage(receiverID int64, msgType realtime.MessageType, content, fileURL string, duration int) (realtime.Message, error) {
	if m.sendErr != nil {
		return realtime.Message{}, m.sendErr
	}
	m.nextID++
	return realtime.Message{
		ID:          m.nextID,
		SenderID:    3,
		ReceiverID:  receiverID,
		MessageType: msgType,
		Content:     content,
		FileURL:     fileURL,
		Duration:    duration,
		CreatedAt:   time.Now().Unix(),
	}, nil
}

func (m *mockAPI) SendText(_ context.Context, receiverID int64, content string) (realtime.Message, error) {
	return m.sendMessage(receiverID, realtime.MessageText, content, "", 0)
}

func (m *mockAPI) SendImage(_ context.Context, receiverID int64, fileURL string) (realtime.Message, error) {
	return m.sendMessage(receiverID, realtime.MessageImage, "", fileURL, 0)
}

func (m *mockAPI) SendVoice(_ context.Context, receiverID int64, fileURL string, duration int) (realtime.Message, error) {
	return m.sendMessage(receiverID, realtime.MessageVoice, "", fileURL, duration)
}

func (m *mockAPI) MarkRead(_ context.Context, peerID int64) error {
	m.markReadCh <- peerID
	return nil
}

func (m *mockAPI) DeleteMessage(_ context.Context, messageID int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *mockAPI) OnlineStatus(_ context.Context, _ []int64) ([]presence.Entry, error) {
	return m.statuses, nil
}

func newTestClient(api API) *Client {
	return New(Config{
		SelfID:   3,
		Realtime: realtime.Config{URL: "ws://127.0.0.1:1/ws", ReconnectDelay: time.Millisecond},
		Tokens:   realtime.StaticToken("tok"),
		API:      api,
	})
}

func TestInboundMessageRoutedToPeerConversation(t *testing.T) {
	c := newTestClient(newMockAPI())

	c.Router().Dispatch([]byte(`{"type":"new_message","id":101,"sender_id":7,"receiver_id":3,"message_type":"text","content":"hi","created_at":100}`))

	got := c.Messages(7)
	require.Len(t, got, 1)
	require.Equal(t, int64(101), got[0].ID)
	require.Equal(t, "hi", got[0].Content)
}

func TestOwnEchoRoutedToReceiverConversation(t *testing.T) {
	// An echo of our own message keys the conversation by the receiver.
	c := newTestClient(newMockAPI())

	c.Router().Dispatch([]byte(`{"type":"new_message","id":102,"sender_id":3,"receiver_id":7,"message_type":"text","content":"mine","created_at":100}`))

	require.Len(t, c.Messages(7), 1)
}

func TestPresenceUpdateTracked(t *testing.T) {
	c := newTestClient(newMockAPI())

	c.Router().Dispatch([]byte(`{"type":"presence_update","user_id":7,"is_online":true}`))

	require.True(t, c.IsOnline(7, false))
}

func TestSendText_RecordedWithoutWaitingForEcho(t *testing.T) {
	api := newMockAPI()
	c := newTestClient(api)

	msg, err := c.SendText(context.Background(), 7, "hello back")
	require.NoError(t, err)
	require.Equal(t, int64(101), msg.ID)
	require.Len(t, c.Messages(7), 1)

	// The live echo for the same id is dropped as a duplicate.
	c.Router().Dispatch([]byte(`{"type":"new_message","id":101,"sender_id":3,"receiver_id":7,"message_type":"text","content":"hello back","created_at":100}`))
	require.Len(t, c.Messages(7), 1)
}

func TestSendText_APIFailurePropagates(t *testing.T) {
	api := newMockAPI()
	api.sendErr = errors.New("api down")
	c := newTestClient(api)

	_, err := c.SendText(context.Background(), 7, "hello")
	require.Error(t, err)
	require.Empty(t, c.Messages(7))
}

func TestReadReceiptMarksSentMessage(t *testing.T) {
	api := newMockAPI()
	c := newTestClient(api)

	msg, err := c.SendText(context.Background(), 7, "hello")
	require.NoError(t, err)

	c.Router().Dispatch([]byte(`{"type":"read_receipt","message_id":101,"reader_id":7}`))

	got := c.Messages(7)
	require.Len(t, got, 1)
	require.Equal(t, msg.ID, got[0].ID)
	require.True(t, got[0].IsRead)
}

func TestSetActiveConversation_LoadsHistory(t *testing.T) {
	api := newMockAPI()
	api.history = []realtime.Message{
		{ID: 2, SenderID: 7, ReceiverID: 3, CreatedAt: 200},
		{ID: 1, SenderID: 3, ReceiverID: 7, CreatedAt: 100},
	}
	c := newTestClient(api)

	require.NoError(t, c.SetActiveConversation(context.Background(), 7))

	require.Equal(t, int64(7), c.ActivePeer())
	got := c.Messages(7)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].ID)
	require.Equal(t, 1, c.UnreadCount(7))
}

func TestSetActiveConversation_HistoryFailure(t *testing.T) {
	api := newMockAPI()
	api.historyErr = errors.New("api down")
	c := newTestClient(api)

	require.Error(t, c.SetActiveConversation(context.Background(), 7))
}

func TestMarkConversationRead_DerivedCountsFollow(t *testing.T) {
	api := newMockAPI()
	api.history = []realtime.Message{
		{ID: 1, SenderID: 7, ReceiverID: 3, CreatedAt: 100},
		{ID: 2, SenderID: 7, ReceiverID: 3, CreatedAt: 200},
	}
	c := newTestClient(api)
	require.NoError(t, c.SetActiveConversation(context.Background(), 7))
	require.Equal(t, 2, c.TotalUnread())

	c.MarkConversationRead(context.Background(), 7)

	require.Zero(t, c.UnreadCount(7))
	require.Zero(t, c.TotalUnread())
	select {
	case peer := <-api.markReadCh:
		require.Equal(t, int64(7), peer)
	case <-time.After(time.Second):
		t.Fatal("read state never persisted")
	}
}

func TestRemoveMessage_ForEveryoneCallsDelete(t *testing.T) {
	api := newMockAPI()
	c := newTestClient(api)
	_, err := c.SendText(context.Background(), 7, "oops")
	require.NoError(t, err)

	require.NoError(t, c.RemoveMessage(context.Background(), 7, 101, true))
	require.Equal(t, []int64{101}, api.deleted)
	require.Empty(t, c.Messages(7))
}

func TestRemoveMessage_ForMeSkipsDelete(t *testing.T) {
	api := newMockAPI()
	c := newTestClient(api)
	_, err := c.SendText(context.Background(), 7, "hidden")
	require.NoError(t, err)

	require.NoError(t, c.RemoveMessage(context.Background(), 7, 101, false))
	require.Empty(t, api.deleted)
	require.Empty(t, c.Messages(7))
}

func TestRemoveMessage_DeleteFailureKeepsLocalState(t *testing.T) {
	api := newMockAPI()
	api.deleteErr = errors.New("api down")
	c := newTestClient(api)
	_, err := c.SendText(context.Background(), 7, "stays")
	require.NoError(t, err)

	require.Error(t, c.RemoveMessage(context.Background(), 7, 101, true))
	require.Len(t, c.Messages(7), 1)
}

func TestTypingCallbacks(t *testing.T) {
	c := newTestClient(newMockAPI())

	type typingSignal struct {
		sender int64
		typing bool
	}
	var signals []typingSignal
	c.OnTyping(func(senderID int64, typing bool) {
		signals = append(signals, typingSignal{senderID, typing})
	})

	c.Router().Dispatch([]byte(`{"type":"typing","sender_id":7}`))
	c.Router().Dispatch([]byte(`{"type":"stop_typing","sender_id":7}`))

	require.Equal(t, []typingSignal{{7, true}, {7, false}}, signals)
}

func TestOnUpdate_FiredOnStateChanges(t *testing.T) {
	c := newTestClient(newMockAPI())

	updates := 0
	c.OnUpdate(func() { updates++ })

	c.Router().Dispatch([]byte(`{"type":"new_message","id":1,"sender_id":7,"receiver_id":3,"created_at":100}`))
	c.Router().Dispatch([]byte(`{"type":"new_message","id":1,"sender_id":7,"receiver_id":3,"created_at":100}`)) // duplicate, no update
	c.Router().Dispatch([]byte(`{"type":"presence_update","user_id":7,"is_online":true}`))

	require.Equal(t, 2, updates)
}
