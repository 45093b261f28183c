package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_FanOutInRegistrationOrder(t *testing.T) {
	router := NewRouter()

	var order []string
	router.On(EventTyping, func(Event) { order = append(order, "first") })
	router.On(EventTyping, func(Event) { order = append(order, "second") })
	router.On(Wildcard, func(Event) { order = append(order, "wildcard") })

	router.Dispatch([]byte(`{"type":"typing","sender_id":1}`))

	require.Equal(t, []string{"first", "second", "wildcard"}, order)
}

func TestRouter_WildcardSeesEveryType(t *testing.T) {
	router := NewRouter()

	var seen []string
	router.On(Wildcard, func(ev Event) { seen = append(seen, ev.EventType()) })

	router.Dispatch([]byte(`{"type":"typing","sender_id":1}`))
	router.Dispatch([]byte(`{"type":"presence_update","user_id":2,"is_online":true}`))
	router.Dispatch([]byte(`{"type":"something_else"}`))

	require.Equal(t, []string{"typing", "presence_update", "something_else"}, seen)
}

func TestRouter_UnsubscribeRemovesExactlyThatHandler(t *testing.T) {
	router := NewRouter()

	var first, second int
	off := router.On(EventTyping, func(Event) { first++ })
	router.On(EventTyping, func(Event) { second++ })

	router.Dispatch([]byte(`{"type":"typing","sender_id":1}`))
	off()
	off() // double-unsubscribe is harmless
	router.Dispatch([]byte(`{"type":"typing","sender_id":1}`))

	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

func TestRouter_UnknownTypeReachesExactSubscriber(t *testing.T) {
	router := NewRouter()

	var got Event
	router.On("server_notice", func(ev Event) { got = ev })

	router.Dispatch([]byte(`{"type":"server_notice","text":"maintenance"}`))

	require.NotNil(t, got)
	u, ok := got.(UnknownEvent)
	require.True(t, ok)
	require.Equal(t, "server_notice", u.EventType())
}

func TestRouter_MalformedFrameDropped(t *testing.T) {
	router := NewRouter()

	called := false
	router.On(Wildcard, func(Event) { called = true })

	router.Dispatch([]byte(`not json at all`))

	require.False(t, called)
}

func TestRouter_NoSubscribersIsNotAnError(t *testing.T) {
	router := NewRouter()
	require.NotPanics(t, func() {
		router.Dispatch([]byte(`{"type":"new_message","id":1}`))
	})
}
