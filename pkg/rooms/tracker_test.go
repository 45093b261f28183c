package rooms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// frameRecorder captures outbound control frames.
type frameRecorder struct {
	frames []recordedFrame
	err    error
}

type recordedFrame struct {
	eventType string
	roomID    string
}

func (r *frameRecorder) Send(eventType string, data map[string]interface{}) error {
	roomID, _ := data["room_id"].(string)
	r.frames = append(r.frames, recordedFrame{eventType: eventType, roomID: roomID})
	return r.err
}

func TestRoomID_SymmetricForBothPeers(t *testing.T) {
	require.Equal(t, RoomID(3, 7), RoomID(7, 3))
	require.Equal(t, "3_7", RoomID(3, 7))
	require.Equal(t, "12_345", RoomID(345, 12))
}

func TestJoin_SendsFrameOnce(t *testing.T) {
	sender := &frameRecorder{}
	tracker := NewTracker(sender)

	tracker.Join("3_7")
	tracker.Join("3_7")
	tracker.Join("3_7")

	require.Equal(t, []recordedFrame{{"join", "3_7"}}, sender.frames)
	require.True(t, tracker.Joined("3_7"))
}

func TestLeave_UntrackedRoomIsNoOp(t *testing.T) {
	sender := &frameRecorder{}
	tracker := NewTracker(sender)

	tracker.Leave("3_7")

	require.Empty(t, sender.frames)
}

func TestLeave_SendsFrameAndUnmarks(t *testing.T) {
	sender := &frameRecorder{}
	tracker := NewTracker(sender)

	tracker.Join("3_7")
	tracker.Leave("3_7")

	require.Equal(t, []recordedFrame{{"join", "3_7"}, {"leave", "3_7"}}, sender.frames)
	require.False(t, tracker.Joined("3_7"))
	require.Empty(t, tracker.Rooms())
}

func TestSwitch_LeavesBeforeJoining(t *testing.T) {
	sender := &frameRecorder{}
	tracker := NewTracker(sender)

	tracker.Join("3_7")
	tracker.Switch("3_7", "3_9")

	require.Equal(t, []recordedFrame{
		{"join", "3_7"},
		{"leave", "3_7"},
		{"join", "3_9"},
	}, sender.frames)
	require.Equal(t, []string{"3_9"}, tracker.Rooms())
}

func TestSwitch_SameRoomDoesNothing(t *testing.T) {
	sender := &frameRecorder{}
	tracker := NewTracker(sender)

	tracker.Join("3_7")
	tracker.Switch("3_7", "3_7")

	require.Equal(t, []recordedFrame{{"join", "3_7"}}, sender.frames)
}

func TestJoin_TracksRoomEvenWhenSendFails(t *testing.T) {
	// Control frames are fire-and-forget; the socket being down does not
	// change local membership bookkeeping.
	sender := &frameRecorder{err: errors.New("not connected")}
	tracker := NewTracker(sender)

	tracker.Join("3_7")

	require.True(t, tracker.Joined("3_7"))
}
