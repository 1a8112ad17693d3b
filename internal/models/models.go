package models

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

type UserStatus string

const (
	UserStatusCreated UserStatus = "created"
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user account in the directory.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl"`
	Status      UserStatus `json:"status"`
}

// Profile is the public subset of a user record handed out to peers.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Conversation is the record for one unordered pair of participants.
// UserA and UserB are stored in canonical (lexicographic) order so that
// a lookup by either ordering resolves to the same record.
type Conversation struct {
	ID        string `json:"id"`
	UserA     string `json:"userA"`
	UserB     string `json:"userB"`
	LastSeq   int64  `json:"lastSeq"`
	UpdatedAt int64  `json:"updatedAt"` // Unix timestamp (seconds)
}

// PeerOf returns the other participant of the conversation.
func (c Conversation) PeerOf(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Message represents a single chat message. Immutable after creation
// except for the Seen flag, which only ever transitions false -> true.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Seq            int64  `json:"seq"`
	AuthorID       string `json:"authorId"`
	Text           string `json:"text,omitempty"`
	HTML           string `json:"html,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	Seen           bool   `json:"seen"`
	CreatedAt      int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// ConversationSummary is the derived sidebar entry for one conversation.
// Never persisted, always recomputed.
type ConversationSummary struct {
	ConversationID  string   `json:"conversationId"`
	PeerID          string   `json:"peerId"`
	PeerDisplayName string   `json:"peerDisplayName"`
	PeerAvatarURL   string   `json:"peerAvatarUrl"`
	PeerOnline      bool     `json:"peerOnline"`
	LastMessage     *Message `json:"lastMessage,omitempty"`
	UnseenCount     int      `json:"unseenCount"`
	UpdatedAt       int64    `json:"updatedAt"`
}
