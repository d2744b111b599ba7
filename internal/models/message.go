package models

import "time"

// Message kinds carried in the sendMessage payload and stored messages.
const (
	KindText  = "text"
	KindMedia = "media"
)

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
	Online       bool   `json:"online,omitempty"`
}

// Reaction is one user's emoji on a message. The server owns the list; the
// client replaces it wholesale on every update it receives.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

type Media struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         User       `json:"sender"`
	Text           string     `json:"text,omitempty"`
	Kind           string     `json:"kind"`
	Media          *Media     `json:"media,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	Deleted        bool       `json:"deleted,omitempty"`
}

// Conversation is a summary row from the conversation list endpoint. The
// client reads these but never mutates them; the server owns the roster.
type Conversation struct {
	ID           string    `json:"id"`
	Members      []string  `json:"members"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}
