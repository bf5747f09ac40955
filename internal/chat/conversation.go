package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/auth"
	"github.com/franciszver/cohort3-challenge2/internal/bus"
	"github.com/franciszver/cohort3-challenge2/internal/cache"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
)

// ConversationService is the conversation read/write surface.
type ConversationService struct {
	api    remote.API
	cache  *cache.Manager
	oracle auth.Oracle
	bus    *bus.Bus
	logger *zap.Logger
}

// NewConversationService wires the conversation service.
func NewConversationService(api remote.API, c *cache.Manager, oracle auth.Oracle, b *bus.Bus, logger *zap.Logger) *ConversationService {
	return &ConversationService{api: api, cache: c, oracle: oracle, bus: b, logger: logger}
}

// List returns the current user's conversations, newest activity first. A
// non-empty cache is served immediately with a background refresh; an empty
// cache forces a synchronous refresh. A failed refresh degrades to the
// cached list, even an empty one, rather than surfacing to the caller.
func (s *ConversationService) List(ctx context.Context) ([]cache.CachedConversation, error) {
	if cached := s.cache.CachedConversations(ctx); len(cached) > 0 {
		go func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.RefreshConversations(refreshCtx); err != nil {
				s.logger.Debug("background conversation refresh failed", zap.Error(err))
			}
		}()
		return cached, nil
	}

	if _, err := s.RefreshConversations(ctx); err != nil {
		s.logger.Warn("conversation refresh failed, serving cache", zap.Error(err))
	}
	return s.cache.CachedConversations(ctx), nil
}

// RefreshConversations refetches the user's conversations from the backend
// and replaces the cached list. The backend has no direct "conversations for
// user" query; membership comes from participant records, conversations are
// fetched one by one, and a missing or failing fetch skips that entry rather
// than failing the refresh.
func (s *ConversationService) RefreshConversations(ctx context.Context) ([]model.Conversation, error) {
	user, err := s.oracle.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}

	participants, err := s.api.ParticipantsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch participant records: %w", err)
	}

	convs := make([]model.Conversation, 0, len(participants))
	for _, p := range participants {
		conv, err := s.api.ConversationByID(ctx, p.ConversationID)
		if err != nil {
			s.logger.Warn("skipping unfetchable conversation",
				zap.String("conversation_id", p.ConversationID), zap.Error(err))
			continue
		}
		if conv == nil {
			continue
		}
		convs = append(convs, *conv)
	}

	sortByActivity(convs)
	if err := s.cache.CacheConversations(ctx, convs); err != nil {
		s.logger.Warn("failed to cache conversations", zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: EventConversationsRefreshed, Timestamp: time.Now(), Payload: len(convs)})
	return convs, nil
}

// ByID returns a conversation, serving the cached copy when present.
func (s *ConversationService) ByID(ctx context.Context, id string) (*model.Conversation, error) {
	for _, c := range s.cache.CachedConversations(ctx) {
		if c.ID == id {
			conv := c.Conversation
			return &conv, nil
		}
	}
	conv, err := s.api.ConversationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	return conv, nil
}

// FindOrCreateDirect returns the existing one-to-one conversation with the
// other user, or creates it. The scan goes through the cache-first list, so
// an already-known direct conversation is found even while offline. The
// scan-then-create sequence is not atomic; two racing callers can create two
// direct conversations (see Create).
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, otherUserID string) (model.Conversation, error) {
	user, err := s.oracle.CurrentUser(ctx)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("resolve current user: %w", err)
	}

	convs, err := s.List(ctx)
	if err != nil {
		return model.Conversation{}, err
	}
	for _, c := range convs {
		if isDirectBetween(&c.Conversation, user.ID, otherUserID) {
			return c.Conversation, nil
		}
	}

	return s.create(ctx, model.Conversation{
		IsGroup:      false,
		Participants: []string{user.ID, otherUserID},
		CreatedBy:    user.ID,
	})
}

// CreateGroup creates a named group conversation with the current user as
// admin.
func (s *ConversationService) CreateGroup(ctx context.Context, name string, participantIDs []string) (model.Conversation, error) {
	user, err := s.oracle.CurrentUser(ctx)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("resolve current user: %w", err)
	}

	members := []string{user.ID}
	for _, id := range participantIDs {
		if id != user.ID {
			members = append(members, id)
		}
	}
	return s.create(ctx, model.Conversation{
		Name:         name,
		IsGroup:      true,
		Participants: members,
		CreatedBy:    user.ID,
	})
}

// create persists the conversation, then its participant records. Participant
// creation failures are logged and skipped; the conversation record itself is
// the source of truth for membership.
func (s *ConversationService) create(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	now := time.Now()
	conv.ID = uuid.NewString()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	created, err := s.api.CreateConversation(ctx, conv)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	for _, userID := range created.Participants {
		role := model.RoleMember
		if userID == created.CreatedBy && created.IsGroup {
			role = model.RoleAdmin
		}
		p := model.Participant{
			ID:             uuid.NewString(),
			ConversationID: created.ID,
			UserID:         userID,
			Role:           role,
			JoinedAt:       now,
		}
		if err := s.api.CreateParticipant(ctx, p); err != nil {
			s.logger.Warn("failed to create participant record",
				zap.String("conversation_id", created.ID), zap.String("user_id", userID), zap.Error(err))
		}
	}

	if _, err := s.RefreshConversations(ctx); err != nil {
		s.logger.Debug("refresh after create failed", zap.Error(err))
	}
	return created, nil
}

// Update pushes edited conversation metadata and refreshes the cached list.
func (s *ConversationService) Update(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	updated, err := s.api.UpdateConversation(ctx, conv)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	if _, err := s.RefreshConversations(ctx); err != nil {
		s.logger.Debug("refresh after update failed", zap.Error(err))
	}
	return updated, nil
}

// AddParticipant adds a user to a group conversation.
func (s *ConversationService) AddParticipant(ctx context.Context, conversationID, userID string) error {
	conv, err := s.api.ConversationByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("fetch conversation: %w", err)
	}
	if conv == nil {
		return &remote.Error{Kind: remote.KindNotFound, Op: "addParticipant", Message: "conversation not found"}
	}
	if conv.HasParticipant(userID) {
		return nil
	}

	if err := s.api.CreateParticipant(ctx, model.Participant{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           model.RoleMember,
		JoinedAt:       time.Now(),
	}); err != nil {
		return fmt.Errorf("create participant record: %w", err)
	}

	conv.Participants = append(conv.Participants, userID)
	if _, err := s.api.UpdateConversation(ctx, *conv); err != nil {
		return fmt.Errorf("update membership list: %w", err)
	}
	return nil
}

// RemoveParticipant marks a user as having left a conversation. The
// participant record is retained with a leave timestamp for history.
func (s *ConversationService) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	p, err := s.api.ParticipantFor(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("fetch participant record: %w", err)
	}
	if p == nil {
		return nil
	}
	now := time.Now()
	p.LeftAt = &now
	if err := s.api.UpdateParticipant(ctx, *p); err != nil {
		return fmt.Errorf("update participant record: %w", err)
	}

	conv, err := s.api.ConversationByID(ctx, conversationID)
	if err != nil || conv == nil {
		return nil
	}
	members := conv.Participants[:0:len(conv.Participants)]
	for _, id := range conv.Participants {
		if id != userID {
			members = append(members, id)
		}
	}
	conv.Participants = members
	if _, err := s.api.UpdateConversation(ctx, *conv); err != nil {
		s.logger.Warn("failed to update membership list",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return nil
}

// MarkRead zeroes the current user's unread counter for a conversation.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID string) error {
	user, err := s.oracle.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve current user: %w", err)
	}
	p, err := s.api.ParticipantFor(ctx, conversationID, user.ID)
	if err != nil {
		return fmt.Errorf("fetch participant record: %w", err)
	}
	if p == nil {
		return nil
	}
	now := time.Now()
	p.UnreadCount = 0
	p.LastReadAt = &now
	if err := s.api.UpdateParticipant(ctx, *p); err != nil {
		return fmt.Errorf("update participant record: %w", err)
	}
	return nil
}

// isDirectBetween reports whether c is the one-to-one conversation between
// the two users: non-group with exactly those two participants. A malformed
// non-group record with extra members never matches.
func isDirectBetween(c *model.Conversation, userID, otherUserID string) bool {
	return !c.IsGroup && len(c.Participants) == 2 &&
		c.HasParticipant(userID) && c.HasParticipant(otherUserID)
}

// sortByActivity orders conversations by most recent activity, using the
// last message time and falling back to the update time.
func sortByActivity(convs []model.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		return activityTime(convs[i]).After(activityTime(convs[j]))
	})
}

func activityTime(c model.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.UpdatedAt
}
