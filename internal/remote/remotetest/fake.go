// Package remotetest provides a configurable in-memory remote.API for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
)

// Fake implements remote.API with per-method hooks. Unset hooks fall back to
// a tiny in-memory dataset seeded via the exported maps. Every call is
// counted so tests can assert on traffic.
type Fake struct {
	mu    sync.Mutex
	calls map[string]int

	Users         map[string]model.User
	Conversations map[string]model.Conversation
	Participants  []model.Participant
	Messages      map[string][]model.Message // keyed by conversation id

	CreateMessageFn        func(ctx context.Context, msg model.Message) (model.Message, error)
	UpdateMessageFn        func(ctx context.Context, input remote.UpdateMessageInput) (model.Message, error)
	DeleteMessageFn        func(ctx context.Context, id string) error
	MessageByIDFn          func(ctx context.Context, id string) (*model.Message, error)
	ListMessagesFn         func(ctx context.Context, conversationID string, opts remote.ListOptions) (remote.MessagePage, error)
	ListMessagesBySenderFn func(ctx context.Context, senderID string, opts remote.ListOptions) ([]model.Message, error)
	CreateConversationFn   func(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	UpdateConversationFn   func(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	ConversationByIDFn     func(ctx context.Context, id string) (*model.Conversation, error)
	CreateParticipantFn    func(ctx context.Context, p model.Participant) error
	UpdateParticipantFn    func(ctx context.Context, p model.Participant) error
	ParticipantsForUserFn  func(ctx context.Context, userID string) ([]model.Participant, error)
	ParticipantForFn       func(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	UserByIDFn             func(ctx context.Context, id string) (*model.User, error)
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		calls:         make(map[string]int),
		Users:         make(map[string]model.User),
		Conversations: make(map[string]model.Conversation),
		Messages:      make(map[string][]model.Message),
	}
}

// Calls returns how many times the named method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) count(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *Fake) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	f.count("CreateMessage")
	if f.CreateMessageFn != nil {
		return f.CreateMessageFn(ctx, msg)
	}
	f.mu.Lock()
	f.Messages[msg.ConversationID] = append(f.Messages[msg.ConversationID], msg)
	f.mu.Unlock()
	return msg, nil
}

func (f *Fake) UpdateMessage(ctx context.Context, input remote.UpdateMessageInput) (model.Message, error) {
	f.count("UpdateMessage")
	if f.UpdateMessageFn != nil {
		return f.UpdateMessageFn(ctx, input)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for convID, msgs := range f.Messages {
		for i := range msgs {
			if msgs[i].ID == input.ID {
				msgs[i].Content = input.Content
				f.Messages[convID] = msgs
				return msgs[i], nil
			}
		}
	}
	return model.Message{}, &remote.Error{Kind: remote.KindNotFound, Op: "updateMessage", Message: "not found"}
}

func (f *Fake) DeleteMessage(ctx context.Context, id string) error {
	f.count("DeleteMessage")
	if f.DeleteMessageFn != nil {
		return f.DeleteMessageFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for convID, msgs := range f.Messages {
		for i := range msgs {
			if msgs[i].ID == id {
				f.Messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (f *Fake) MessageByID(ctx context.Context, id string) (*model.Message, error) {
	f.count("MessageByID")
	if f.MessageByIDFn != nil {
		return f.MessageByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.Messages {
		for i := range msgs {
			if msgs[i].ID == id {
				m := msgs[i]
				return &m, nil
			}
		}
	}
	return nil, nil
}

func (f *Fake) ListMessages(ctx context.Context, conversationID string, opts remote.ListOptions) (remote.MessagePage, error) {
	f.count("ListMessages")
	if f.ListMessagesFn != nil {
		return f.ListMessagesFn(ctx, conversationID, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]model.Message(nil), f.Messages[conversationID]...)
	return remote.MessagePage{Messages: msgs}, nil
}

func (f *Fake) ListMessagesBySender(ctx context.Context, senderID string, opts remote.ListOptions) ([]model.Message, error) {
	f.count("ListMessagesBySender")
	if f.ListMessagesBySenderFn != nil {
		return f.ListMessagesBySenderFn(ctx, senderID, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, msgs := range f.Messages {
		for _, m := range msgs {
			if m.SenderID == senderID {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *Fake) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	f.count("CreateConversation")
	if f.CreateConversationFn != nil {
		return f.CreateConversationFn(ctx, conv)
	}
	f.mu.Lock()
	f.Conversations[conv.ID] = conv
	f.mu.Unlock()
	return conv, nil
}

func (f *Fake) UpdateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	f.count("UpdateConversation")
	if f.UpdateConversationFn != nil {
		return f.UpdateConversationFn(ctx, conv)
	}
	f.mu.Lock()
	f.Conversations[conv.ID] = conv
	f.mu.Unlock()
	return conv, nil
}

func (f *Fake) ConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	f.count("ConversationByID")
	if f.ConversationByIDFn != nil {
		return f.ConversationByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.Conversations[id]; ok {
		return &conv, nil
	}
	return nil, nil
}

func (f *Fake) CreateParticipant(ctx context.Context, p model.Participant) error {
	f.count("CreateParticipant")
	if f.CreateParticipantFn != nil {
		return f.CreateParticipantFn(ctx, p)
	}
	f.mu.Lock()
	f.Participants = append(f.Participants, p)
	f.mu.Unlock()
	return nil
}

func (f *Fake) UpdateParticipant(ctx context.Context, p model.Participant) error {
	f.count("UpdateParticipant")
	if f.UpdateParticipantFn != nil {
		return f.UpdateParticipantFn(ctx, p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Participants {
		if f.Participants[i].ID == p.ID {
			f.Participants[i] = p
			return nil
		}
	}
	return &remote.Error{Kind: remote.KindNotFound, Op: "updateParticipant", Message: "not found"}
}

func (f *Fake) ParticipantsForUser(ctx context.Context, userID string) ([]model.Participant, error) {
	f.count("ParticipantsForUser")
	if f.ParticipantsForUserFn != nil {
		return f.ParticipantsForUserFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Participant
	for _, p := range f.Participants {
		if p.UserID == userID && p.LeftAt == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) ParticipantFor(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	f.count("ParticipantFor")
	if f.ParticipantForFn != nil {
		return f.ParticipantForFn(ctx, conversationID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Participants {
		if f.Participants[i].ConversationID == conversationID && f.Participants[i].UserID == userID {
			p := f.Participants[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (f *Fake) UserByID(ctx context.Context, id string) (*model.User, error) {
	f.count("UserByID")
	if f.UserByIDFn != nil {
		return f.UserByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.Users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// SubscribeMessages is not supported by the fake; realtime tests feed events
// directly into the consumer.
func (f *Fake) SubscribeMessages(ctx context.Context, conversationID string) (*remote.Subscription, error) {
	f.count("SubscribeMessages")
	return nil, &remote.Error{Kind: remote.KindInternal, Op: "subscribe", Message: "not supported in fake"}
}

func (f *Fake) SubscribeConversations(ctx context.Context, userID string) (*remote.Subscription, error) {
	f.count("SubscribeConversations")
	return nil, &remote.Error{Kind: remote.KindInternal, Op: "subscribe", Message: "not supported in fake"}
}
