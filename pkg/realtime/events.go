package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound frame discriminators recognized by the client.
const (
	EventNewMessage     = "new_message"
	EventPresenceUpdate = "presence_update"
	EventReadReceipt    = "read_receipt"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
)

// Outbound frame types sent by the client.
const (
	FrameJoin       = "join"
	FrameLeave      = "leave"
	FrameTyping     = "typing"
	FrameStopTyping = "stop_typing"
)

// MessageType discriminates the kinds of chat message content.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessageImage     MessageType = "image"
	MessageVoice     MessageType = "voice"
	MessagePromotion MessageType = "promotion"
)

// Message is a chat message as it appears on the wire and in REST payloads.
// Identity is ID; the server assigns it and it never changes.
type Message struct {
	ID          int64       `json:"id"`
	SenderID    int64       `json:"sender_id"`
	ReceiverID  int64       `json:"receiver_id"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content,omitempty"`
	FileURL     string      `json:"file_url,omitempty"`
	Duration    int         `json:"duration,omitempty"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   int64       `json:"created_at"` // epoch seconds
}

// Event is the decoded form of an inbound socket frame.
type Event interface {
	EventType() string
}

// NewMessageEvent carries a freshly delivered chat message.
type NewMessageEvent struct {
	Message
}

func (NewMessageEvent) EventType() string { return EventNewMessage }

// PresenceEvent reports a user going online or offline.
type PresenceEvent struct {
	UserID   int64 `json:"user_id"`
	IsOnline bool  `json:"is_online"`
	LastSeen int64 `json:"last_seen,omitempty"` // epoch seconds, optional
}

func (PresenceEvent) EventType() string { return EventPresenceUpdate }

// ReadReceiptEvent reports that a peer read one of our messages.
type ReadReceiptEvent struct {
	MessageID int64 `json:"message_id"`
	ReaderID  int64 `json:"reader_id"`
}

func (ReadReceiptEvent) EventType() string { return EventReadReceipt }

// TypingEvent reports a peer starting or stopping typing.
type TypingEvent struct {
	SenderID int64 `json:"sender_id"`
	Stopped  bool  `json:"-"`
}

func (e TypingEvent) EventType() string {
	if e.Stopped {
		return EventStopTyping
	}
	return EventTyping
}

// UnknownEvent wraps a frame whose type the client does not recognize. It
// still routes normally: wildcard subscribers see it, as does any handler
// registered for that exact type string.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) EventType() string { return e.Type }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a raw frame into its typed event. A frame that is not valid
// JSON or has no type field returns an error; an unrecognized type decodes to
// UnknownEvent so new server events never crash an old client.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type field")
	}

	switch env.Type {
	case EventNewMessage:
		var e NewMessageEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventPresenceUpdate:
		var e PresenceEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventReadReceipt:
		var e ReadReceiptEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return e, nil
	case EventTyping, EventStopTyping:
		var e TypingEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		e.Stopped = env.Type == EventStopTyping
		return e, nil
	default:
		return UnknownEvent{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
