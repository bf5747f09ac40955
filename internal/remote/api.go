// Package remote is the boundary to the managed backend. It exposes a typed
// operation surface over the backend's generic query/mutate/subscribe
// contract and decodes every payload into model entities before the core
// sees it.
package remote

import (
	"context"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// SortDirection orders list results by their range key.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// ListOptions carries cursor pagination parameters.
type ListOptions struct {
	Limit         int
	NextToken     string
	SortDirection SortDirection
}

// MessagePage is one page of a conversation's messages.
type MessagePage struct {
	Messages  []model.Message
	NextToken string
	HasMore   bool
}

// UpdateMessageInput is a partial message edit.
type UpdateMessageInput struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// API is the remote operation surface consumed by the sync core. All
// implementations must return *Error for server-reported failures so the
// retry taxonomy holds.
type API interface {
	CreateMessage(ctx context.Context, msg model.Message) (model.Message, error)
	UpdateMessage(ctx context.Context, input UpdateMessageInput) (model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	MessageByID(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, opts ListOptions) (MessagePage, error)
	ListMessagesBySender(ctx context.Context, senderID string, opts ListOptions) ([]model.Message, error)

	CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	UpdateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	ConversationByID(ctx context.Context, id string) (*model.Conversation, error)

	CreateParticipant(ctx context.Context, p model.Participant) error
	UpdateParticipant(ctx context.Context, p model.Participant) error
	ParticipantsForUser(ctx context.Context, userID string) ([]model.Participant, error)
	ParticipantFor(ctx context.Context, conversationID, userID string) (*model.Participant, error)

	UserByID(ctx context.Context, id string) (*model.User, error)

	// SubscribeMessages yields message events filtered server-side by
	// conversation id. SubscribeConversations yields conversation events for
	// conversations the user participates in.
	SubscribeMessages(ctx context.Context, conversationID string) (*Subscription, error)
	SubscribeConversations(ctx context.Context, userID string) (*Subscription, error)
}
