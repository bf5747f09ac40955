// Package chat exposes the cache-first message and conversation services.
// Reads serve cached state immediately and refresh from the backend in the
// background; writes insert optimistically and reconcile with the backend,
// degrading to the outbox when it is unreachable.
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
	"github.com/franciszver/cohort3-challenge2/internal/netmon"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
)

// Bus event kinds published by the services.
const (
	EventMessagesRefreshed      = "cache.messages_refreshed"
	EventConversationsRefreshed = "cache.conversations_refreshed"
)

// MessagePage is one page of conversation messages from the cache-first read
// path. FromCache reports whether the backend was bypassed.
type MessagePage struct {
	Messages  []cache.CachedMessage
	NextToken string
	HasMore   bool
	FromCache bool
}

// MessageService is the message read/write surface.
type MessageService struct {
	api     remote.API
	cache   *cache.Manager
	monitor *netmon.Monitor
	oracle  auth.Oracle
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewMessageService wires the message service.
func NewMessageService(api remote.API, c *cache.Manager, monitor *netmon.Monitor, oracle auth.Oracle, b *bus.Bus, logger *zap.Logger) *MessageService {
	return &MessageService{api: api, cache: c, monitor: monitor, oracle: oracle, bus: b, logger: logger}
}

// Send creates a message. The message is cached optimistically before any
// network traffic, so the caller can render it immediately. Offline or on a
// retryable failure the message lands in the outbox and is returned without
// error; only a server rejection surfaces as an error.
func (s *MessageService) Send(ctx context.Context, conversationID, content string, msgType model.MessageType) (model.Message, error) {
	user, err := s.oracle.CurrentUser(ctx)
	if err != nil {
		return model.Message{}, fmt.Errorf("resolve current user: %w", err)
	}
	if msgType == "" {
		msgType = model.MessageText
	}

	now := time.Now()
	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       user.ID,
		Content:        content,
		Type:           msgType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.cache.CacheOptimisticMessage(ctx, msg); err != nil {
		s.logger.Warn("optimistic cache write failed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	if !s.monitor.Online() {
		s.logger.Info("offline, queueing message", zap.String("message_id", msg.ID))
		if err := s.cache.StorePending(ctx, msg); err != nil {
			return model.Message{}, fmt.Errorf("queue message: %w", err)
		}
		return msg, nil
	}

	sent, err := s.api.CreateMessage(ctx, msg)
	if err != nil {
		return s.handleSendFailure(ctx, msg, err)
	}

	if err := s.cache.UpdateMessageSyncStatus(ctx, conversationID, msg.ID, model.SyncSynced); err != nil {
		s.logger.Warn("failed to mark message synced", zap.String("message_id", msg.ID), zap.Error(err))
	}
	go s.updateConversationPreview(sent)
	return sent, nil
}

func (s *MessageService) handleSendFailure(ctx context.Context, msg model.Message, sendErr error) (model.Message, error) {
	if err := s.cache.UpdateMessageSyncStatus(ctx, msg.ConversationID, msg.ID, model.SyncFailed); err != nil {
		s.logger.Warn("failed to mark message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	if !remote.Retryable(sendErr) {
		return model.Message{}, fmt.Errorf("send message: %w", sendErr)
	}

	s.logger.Warn("send failed, queueing for retry", zap.String("message_id", msg.ID), zap.Error(sendErr))
	if err := s.cache.StorePending(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("queue message after failed send: %w", err)
	}
	return msg, nil
}

// Fetch returns a conversation's messages. The first page is served from the
// cache when possible, with a background refresh keeping it current; cursor
// pages always go to the backend. A cursor-less fetch never surfaces a
// backend failure: it degrades to the cached set, even an empty one. Only a
// cursor fetch with nothing cached errors.
func (s *MessageService) Fetch(ctx context.Context, conversationID string, limit int, nextToken string) (MessagePage, error) {
	if nextToken == "" {
		if cached := s.cache.CachedMessages(ctx, conversationID); len(cached) > 0 {
			go s.refresh(conversationID, limit)
			return MessagePage{Messages: cached, FromCache: true}, nil
		}
	}

	page, err := s.api.ListMessages(ctx, conversationID, remote.ListOptions{
		Limit:         limit,
		NextToken:     nextToken,
		SortDirection: remote.SortAsc,
	})
	if err != nil {
		cached := s.cache.CachedMessages(ctx, conversationID)
		if nextToken == "" || len(cached) > 0 {
			s.logger.Warn("fetch failed, serving cache",
				zap.String("conversation_id", conversationID), zap.Error(err))
			return MessagePage{Messages: cached, FromCache: true}, nil
		}
		return MessagePage{}, fmt.Errorf("fetch messages: %w", err)
	}

	if err := s.cache.CacheMessages(ctx, conversationID, page.Messages); err != nil {
		s.logger.Warn("failed to cache fetched messages",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return MessagePage{
		Messages:  s.cache.CachedMessages(ctx, conversationID),
		NextToken: page.NextToken,
		HasMore:   page.HasMore,
	}, nil
}

// refresh refetches the newest page in the background and announces the
// update on the bus so views re-read the cache.
func (s *MessageService) refresh(conversationID string, limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := s.api.ListMessages(ctx, conversationID, remote.ListOptions{
		Limit:         limit,
		SortDirection: remote.SortAsc,
	})
	if err != nil {
		s.logger.Debug("background refresh failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if err := s.cache.CacheMessages(ctx, conversationID, page.Messages); err != nil {
		s.logger.Warn("failed to cache refreshed messages",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	s.bus.Publish(bus.Event{Kind: EventMessagesRefreshed, Timestamp: time.Now(), Payload: conversationID})
}

// Update edits a message's content on the backend and reconciles the cache.
func (s *MessageService) Update(ctx context.Context, input remote.UpdateMessageInput) (model.Message, error) {
	updated, err := s.api.UpdateMessage(ctx, input)
	if err != nil {
		return model.Message{}, fmt.Errorf("update message: %w", err)
	}
	if err := s.cache.CacheMessages(ctx, updated.ConversationID, []model.Message{updated}); err != nil {
		s.logger.Warn("failed to cache updated message", zap.String("message_id", updated.ID), zap.Error(err))
	}
	return updated, nil
}

// Delete removes a message on the backend and from the cache.
func (s *MessageService) Delete(ctx context.Context, conversationID, messageID string) error {
	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := s.cache.RemoveCachedMessage(ctx, conversationID, messageID); err != nil {
		s.logger.Warn("failed to evict deleted message", zap.String("message_id", messageID), zap.Error(err))
	}
	return nil
}

// ByID fetches a single message from the backend.
func (s *MessageService) ByID(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.api.MessageByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return msg, nil
}

// BySender lists a user's messages across conversations, newest first.
func (s *MessageService) BySender(ctx context.Context, senderID string, limit int) ([]model.Message, error) {
	msgs, err := s.api.ListMessagesBySender(ctx, senderID, remote.ListOptions{
		Limit:         limit,
		SortDirection: remote.SortDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch sender messages: %w", err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[j].Before(&msgs[i]) })
	return msgs, nil
}

// updateConversationPreview refreshes the conversation's last-message fields
// after a confirmed send. Best effort.
func (s *MessageService) updateConversationPreview(msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conv, err := s.api.ConversationByID(ctx, msg.ConversationID)
	if err != nil || conv == nil {
		return
	}
	if msg.CreatedAt.Before(conv.LastMessageAt) {
		return
	}
	conv.LastMessage = msg.Content
	conv.LastMessageSender = msg.SenderID
	conv.LastMessageAt = msg.CreatedAt
	if _, err := s.api.UpdateConversation(ctx, *conv); err != nil {
		s.logger.Debug("failed to update conversation preview",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}
