package models

import "encoding/json"

type ClientEventType string

const (
	// ClientEventView requests the peer profile and message history
	// for the conversation with PeerID.
	ClientEventView ClientEventType = "view"
	// ClientEventSend sends a new message to ReceiverID.
	ClientEventSend ClientEventType = "send"
	// ClientEventSidebar requests the caller's conversation summaries.
	ClientEventSidebar ClientEventType = "sidebar"
	// ClientEventSeen marks PeerID's messages in the shared conversation as seen.
	ClientEventSeen ClientEventType = "seen"
	// Call signaling relays. Payloads are forwarded verbatim to TargetID.
	ClientEventCall   ClientEventType = "call"
	ClientEventAnswer ClientEventType = "answer"
	ClientEventICE    ClientEventType = "ice"
)

// ClientEvent is an inbound event from an authenticated connection.
type ClientEvent struct {
	Type       ClientEventType `json:"type" validate:"required"`
	PeerID     string          `json:"peerId,omitempty"`
	ReceiverID string          `json:"receiverId,omitempty"`
	Text       string          `json:"text,omitempty"`
	MediaURL   string          `json:"mediaUrl,omitempty" validate:"omitempty,uri"`
	TargetID   string          `json:"targetId,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`
}

type ServerEventType string

const (
	ServerEventOnlineUsers   ServerEventType = "onlineUsers"
	ServerEventPeerProfile   ServerEventType = "peerProfile"
	ServerEventMessages      ServerEventType = "messages"
	ServerEventConversations ServerEventType = "conversations"
	ServerEventCall          ServerEventType = "call"
	ServerEventAnswer        ServerEventType = "answer"
	ServerEventICE           ServerEventType = "ice"
	ServerEventError         ServerEventType = "error"
)

// PeerProfile is the payload answering a view request.
type PeerProfile struct {
	Profile
	Online bool `json:"online"`
}

// ServerEvent is an outbound event pushed to one or more connections.
type ServerEvent struct {
	Type           ServerEventType       `json:"type"`
	Users          []string              `json:"users,omitempty"`
	Profile        *PeerProfile          `json:"profile,omitempty"`
	ConversationID string                `json:"conversationId,omitempty"`
	Messages       []Message             `json:"messages,omitempty"`
	Conversations  []ConversationSummary `json:"conversations,omitempty"`
	FromID         string                `json:"fromId,omitempty"`
	Signal         json.RawMessage       `json:"signal,omitempty"`
	Error          string                `json:"error,omitempty"`
}
