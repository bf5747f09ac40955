package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// Wire shapes mirror the backend's records: timestamps are RFC3339 strings,
// metadata is a JSON-encoded string, and soft deletes carry a _deleted flag.

type wireMessage struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Content        string   `json:"content"`
	MessageType    string   `json:"messageType"`
	Attachments    []string `json:"attachments"`
	Metadata       string   `json:"metadata"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
	EditedAt       string   `json:"editedAt"`
	DeletedAt      string   `json:"deletedAt"`
	Deleted        bool     `json:"_deleted"`
}

type wireConversation struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	IsGroup           bool     `json:"isGroup"`
	Participants      []string `json:"participants"`
	LastMessage       string   `json:"lastMessage"`
	LastMessageSender string   `json:"lastMessageSender"`
	LastMessageAt     string   `json:"lastMessageAt"`
	CreatedBy         string   `json:"createdBy"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
	Deleted           bool     `json:"_deleted"`
}

type wireParticipant struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           string `json:"role"`
	UnreadCount    int    `json:"unreadCount"`
	JoinedAt       string `json:"joinedAt"`
	LeftAt         string `json:"leftAt"`
	LastReadAt     string `json:"lastReadAt"`
	Deleted        bool   `json:"_deleted"`
}

type wireUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Avatar      string `json:"avatar"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func decodeMessage(raw json.RawMessage) (model.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return w.toModel()
}

func (w *wireMessage) toModel() (model.Message, error) {
	if w.ID == "" || w.ConversationID == "" {
		return model.Message{}, fmt.Errorf("message payload missing id or conversationId")
	}
	m := model.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Content:        w.Content,
		Type:           model.MessageType(w.MessageType),
		Attachments:    w.Attachments,
		CreatedAt:      parseTime(w.CreatedAt),
		UpdatedAt:      parseTime(w.UpdatedAt),
		EditedAt:       parseTimePtr(w.EditedAt),
		DeletedAt:      parseTimePtr(w.DeletedAt),
	}
	if m.Type == "" {
		m.Type = model.MessageText
	}
	if w.Metadata != "" {
		if err := json.Unmarshal([]byte(w.Metadata), &m.Metadata); err != nil {
			// Opaque metadata that fails to parse is dropped, not fatal.
			m.Metadata = nil
		}
	}
	return m, nil
}

func decodeConversation(raw json.RawMessage) (model.Conversation, error) {
	var w wireConversation
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return w.toModel()
}

func (w *wireConversation) toModel() (model.Conversation, error) {
	if w.ID == "" {
		return model.Conversation{}, fmt.Errorf("conversation payload missing id")
	}
	return model.Conversation{
		ID:                w.ID,
		Name:              w.Name,
		Description:       w.Description,
		IsGroup:           w.IsGroup,
		Participants:      w.Participants,
		LastMessage:       w.LastMessage,
		LastMessageSender: w.LastMessageSender,
		LastMessageAt:     parseTime(w.LastMessageAt),
		CreatedBy:         w.CreatedBy,
		CreatedAt:         parseTime(w.CreatedAt),
		UpdatedAt:         parseTime(w.UpdatedAt),
	}, nil
}

func (w *wireParticipant) toModel() (model.Participant, error) {
	if w.ID == "" || w.ConversationID == "" || w.UserID == "" {
		return model.Participant{}, fmt.Errorf("participant payload missing id, conversationId, or userId")
	}
	role := model.ParticipantRole(w.Role)
	if role == "" {
		role = model.RoleMember
	}
	return model.Participant{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		UserID:         w.UserID,
		Role:           role,
		UnreadCount:    w.UnreadCount,
		JoinedAt:       parseTime(w.JoinedAt),
		LeftAt:         parseTimePtr(w.LeftAt),
		LastReadAt:     parseTimePtr(w.LastReadAt),
	}, nil
}

func (w *wireUser) toModel() (model.User, error) {
	if w.ID == "" {
		return model.User{}, fmt.Errorf("user payload missing id")
	}
	return model.User{
		ID:          w.ID,
		Username:    w.Username,
		DisplayName: w.DisplayName,
		Email:       w.Email,
		Avatar:      w.Avatar,
		Status:      w.Status,
		CreatedAt:   parseTime(w.CreatedAt),
		UpdatedAt:   parseTime(w.UpdatedAt),
	}, nil
}

// decodeEvent maps a subscription payload field name to the event union.
func decodeEvent(field string, raw json.RawMessage) (*model.Event, error) {
	switch field {
	case "onCreateMessage", "onUpdateMessage", "onDeleteMessage":
		msg, err := decodeMessage(raw)
		if err != nil {
			return nil, err
		}
		kind := model.EventMessageCreated
		if field == "onUpdateMessage" {
			kind = model.EventMessageUpdated
		} else if field == "onDeleteMessage" {
			kind = model.EventMessageDeleted
		}
		return &model.Event{Kind: kind, Message: &msg}, nil
	case "onCreateConversation", "onUpdateConversation":
		conv, err := decodeConversation(raw)
		if err != nil {
			return nil, err
		}
		kind := model.EventConversationCreated
		if field == "onUpdateConversation" {
			kind = model.EventConversationUpdated
		}
		return &model.Event{Kind: kind, Conversation: &conv}, nil
	}
	return nil, fmt.Errorf("unknown subscription field %q", field)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeMessageInput(m model.Message) map[string]any {
	input := map[string]any{
		"id":             m.ID,
		"conversationId": m.ConversationID,
		"senderId":       m.SenderID,
		"content":        m.Content,
		"messageType":    string(m.Type),
		"attachments":    m.Attachments,
		"createdAt":      formatTime(m.CreatedAt),
		"updatedAt":      formatTime(m.UpdatedAt),
	}
	if len(m.Metadata) > 0 {
		b, _ := json.Marshal(m.Metadata)
		input["metadata"] = string(b)
	}
	return input
}
