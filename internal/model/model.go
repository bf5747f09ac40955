// Package model defines the typed chat entities shared by the cache, sync,
// and service layers. Raw remote payloads are decoded into these types at the
// API boundary; nothing else in the core touches untyped data.
package model

import "time"

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// SyncStatus tracks whether a locally visible message has reached the server.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

// Message is an immutable content record. The id is unique within a
// conversation; ordering is by CreatedAt with id as tiebreak.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Type           MessageType       `json:"messageType"`
	Attachments    []string          `json:"attachments,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	EditedAt       *time.Time        `json:"editedAt,omitempty"`
	DeletedAt      *time.Time        `json:"deletedAt,omitempty"`
}

// Before reports whether m sorts ahead of other in a conversation's timeline.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// ParticipantRole is a member's role within a conversation.
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Participant is a user's membership record in a conversation.
type Participant struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	UserID         string          `json:"userId"`
	Role           ParticipantRole `json:"role"`
	UnreadCount    int             `json:"unreadCount"`
	JoinedAt       time.Time       `json:"joinedAt"`
	LeftAt         *time.Time      `json:"leftAt,omitempty"`
	LastReadAt     *time.Time      `json:"lastReadAt,omitempty"`
}

// Conversation is a participant-scoped channel. A non-group conversation has
// exactly two participants.
type Conversation struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	Description       string    `json:"description,omitempty"`
	IsGroup           bool      `json:"isGroup"`
	Participants      []string  `json:"participants"`
	LastMessage       string    `json:"lastMessage,omitempty"`
	LastMessageSender string    `json:"lastMessageSender,omitempty"`
	LastMessageAt     time.Time `json:"lastMessageAt,omitempty"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// User is a profile record from the remote store.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SenderInfo is the display identity decorated onto messages.
type SenderInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar,omitempty"`
	Status      string `json:"status,omitempty"`
}
