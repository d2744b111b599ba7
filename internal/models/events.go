package models

import "encoding/json"

// Client -> server stream events.
const (
	EventJoinChat      = "joinChat"
	EventSendMessage   = "sendMessage"
	EventTyping        = "typing"
	EventDeleteMessage = "deleteMessage"
	EventSetOnline     = "setOnline"
)

// Server -> client stream events.
const (
	EventNewMessage     = "newMessage"
	EventMessageUpdated = "messageUpdated"
	EventMessageDeleted = "messageDeleted"
	EventUserTyping     = "userTyping"
)

// Envelope is the wire format for stream messages. One connection may carry
// several joined conversations, so every envelope names its room and
// consumers must filter on ConversationID before applying the payload.
type Envelope struct {
	Event          string          `json:"event"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	Text      string `json:"text,omitempty"`
	Kind      string `json:"kind"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
}

type TypingPayload struct {
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

type DeletePayload struct {
	MessageID string `json:"message_id"`
}

type OnlinePayload struct {
	UserID string `json:"user_id"`
}
