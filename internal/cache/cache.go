// Package cache owns the offline copy of messages, conversations, and user
// profiles, plus the pending outbox. Everything lives in the kv store as JSON
// blobs; filtering, dedup, and expiry happen here in application code since
// the store has no query engine. That is acceptable for a client-side cache
// sized by retention caps, not a primary store.
//
// Read paths are total: storage errors are logged and degrade to empty
// results so the UI always has something to render.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/kv"
	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// Storage keys. All cache-owned keys live under these prefixes so ClearAll
// can enumerate them without touching unrelated data.
const (
	msgKeyPrefix  = "messages:"
	userKeyPrefix = "user:"
	convKey       = "conversations"
	pendingKey    = "pending_messages"
)

func msgKey(conversationID string) string { return msgKeyPrefix + conversationID }
func userKey(userID string) string        { return userKeyPrefix + userID }

// Options bounds the cache.
type Options struct {
	MaxMessages      int           // per conversation
	MaxConversations int
	Expiry           time.Duration
}

// DefaultOptions returns the production retention bounds.
func DefaultOptions() Options {
	return Options{
		MaxMessages:      1000,
		MaxConversations: 100,
		Expiry:           7 * 24 * time.Hour,
	}
}

// CachedMessage wraps a message with its cache bookkeeping.
type CachedMessage struct {
	model.Message
	CachedAt   time.Time        `json:"cached_at"`
	SyncStatus model.SyncStatus `json:"sync_status"`
}

// CachedConversation wraps a conversation with its cache bookkeeping.
type CachedConversation struct {
	model.Conversation
	CachedAt time.Time `json:"cached_at"`
}

type cachedUser struct {
	model.User
	CachedAt time.Time `json:"cached_at"`
}

// Manager coordinates all cache reads and writes. A single mutex serializes
// read-modify-write cycles within the process; across processes the blob is
// last-write-wins, which is accepted for a single-user local cache.
type Manager struct {
	mu     sync.Mutex
	store  kv.Store
	opts   Options
	logger *zap.Logger
}

// NewManager creates a cache manager over the given store.
func NewManager(store kv.Store, opts Options, logger *zap.Logger) *Manager {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultOptions().MaxMessages
	}
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = DefaultOptions().MaxConversations
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultOptions().Expiry
	}
	return &Manager{store: store, opts: opts, logger: logger}
}

// CacheMessages merges msgs into the conversation's cached set. Incoming
// entries win on id conflict and are marked synced; surviving entries keep
// their status. The merged set is sorted ascending by creation time (id
// tiebreak) and trimmed to the most recent MaxMessages.
func (m *Manager) CacheMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.readMessages(ctx, conversationID)
	now := time.Now()

	merged := make(map[string]CachedMessage, len(existing)+len(msgs))
	for _, cm := range existing {
		merged[cm.ID] = cm
	}
	for _, msg := range msgs {
		merged[msg.ID] = CachedMessage{
			Message:    msg,
			CachedAt:   now,
			SyncStatus: model.SyncSynced,
		}
	}

	out := make([]CachedMessage, 0, len(merged))
	for _, cm := range merged {
		out = append(out, cm)
	}
	sortMessages(out)

	if len(out) > m.opts.MaxMessages {
		out = out[len(out)-m.opts.MaxMessages:]
	}

	return m.writeMessages(ctx, conversationID, out)
}

// CachedMessages returns the conversation's cached messages, dropping entries
// older than the expiry window. When entries were dropped the trimmed set is
// written back (lazy cleanup), so a repeated read does no further work.
func (m *Manager) CachedMessages(ctx context.Context, conversationID string) []CachedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cachedMessagesLocked(ctx, conversationID)
}

func (m *Manager) cachedMessagesLocked(ctx context.Context, conversationID string) []CachedMessage {
	msgs := m.readMessages(ctx, conversationID)
	valid := msgs[:0:len(msgs)]
	cutoff := time.Now().Add(-m.opts.Expiry)
	for _, cm := range msgs {
		if cm.CachedAt.After(cutoff) {
			valid = append(valid, cm)
		}
	}
	if len(valid) != len(msgs) {
		if err := m.writeMessages(ctx, conversationID, valid); err != nil {
			m.logger.Warn("failed to rewrite trimmed message cache",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return valid
}

// CacheOptimisticMessage appends a single message with pending status to the
// conversation's cached set without evicting anything.
func (m *Manager) CacheOptimisticMessage(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.readMessages(ctx, msg.ConversationID)
	existing = append(existing, CachedMessage{
		Message:    msg,
		CachedAt:   time.Now(),
		SyncStatus: model.SyncPending,
	})
	return m.writeMessages(ctx, msg.ConversationID, existing)
}

// UpdateMessageSyncStatus flips the status on the matching cached entry.
// No-op if the message is not cached.
func (m *Manager) UpdateMessageSyncStatus(ctx context.Context, conversationID, messageID string, status model.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.readMessages(ctx, conversationID)
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].SyncStatus = status
			found = true
		}
	}
	if !found {
		return nil
	}
	return m.writeMessages(ctx, conversationID, msgs)
}

// RemoveCachedMessage drops one message from a conversation's cached set.
// No-op if the message is not cached.
func (m *Manager) RemoveCachedMessage(ctx context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.readMessages(ctx, conversationID)
	out := msgs[:0:len(msgs)]
	for _, cm := range msgs {
		if cm.ID != messageID {
			out = append(out, cm)
		}
	}
	if len(out) == len(msgs) {
		return nil
	}
	return m.writeMessages(ctx, conversationID, out)
}

// CacheConversations replaces the cached conversation list, preserving caller
// order and keeping at most MaxConversations entries.
func (m *Manager) CacheConversations(ctx context.Context, convs []model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if len(convs) > m.opts.MaxConversations {
		convs = convs[:m.opts.MaxConversations]
	}
	out := make([]CachedConversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, CachedConversation{Conversation: c, CachedAt: now})
	}

	blob, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, convKey, string(blob))
}

// CachedConversations returns the cached conversation list in stored order,
// dropping expired entries and rewriting the trimmed list when any were
// dropped.
func (m *Manager) CachedConversations(ctx context.Context) []CachedConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cachedConversationsLocked(ctx)
}

func (m *Manager) cachedConversationsLocked(ctx context.Context) []CachedConversation {
	blob, ok, err := m.store.Get(ctx, convKey)
	if err != nil {
		m.logger.Warn("failed to read conversation cache", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var convs []CachedConversation
	if err := json.Unmarshal([]byte(blob), &convs); err != nil {
		m.logger.Warn("corrupt conversation cache, discarding", zap.Error(err))
		return nil
	}

	cutoff := time.Now().Add(-m.opts.Expiry)
	valid := convs[:0:len(convs)]
	for _, c := range convs {
		if c.CachedAt.After(cutoff) {
			valid = append(valid, c)
		}
	}
	if len(valid) != len(convs) {
		if trimmed, err := json.Marshal(valid); err == nil {
			if err := m.store.Set(ctx, convKey, string(trimmed)); err != nil {
				m.logger.Warn("failed to rewrite trimmed conversation cache", zap.Error(err))
			}
		}
	}
	return valid
}

// CacheUserProfile stores a single user profile.
func (m *Manager) CacheUserProfile(ctx context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, err := json.Marshal(cachedUser{User: user, CachedAt: time.Now()})
	if err != nil {
		return err
	}
	return m.store.Set(ctx, userKey(user.ID), string(blob))
}

// CachedUserProfile returns a cached profile, or nil when absent or expired.
// An expired entry is removed rather than rewritten since it is a single key.
func (m *Manager) CachedUserProfile(ctx context.Context, userID string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok, err := m.store.Get(ctx, userKey(userID))
	if err != nil {
		m.logger.Warn("failed to read user cache", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var cu cachedUser
	if err := json.Unmarshal([]byte(blob), &cu); err != nil {
		m.logger.Warn("corrupt user cache entry, discarding", zap.String("user_id", userID), zap.Error(err))
		_ = m.store.Remove(ctx, userKey(userID))
		return nil
	}
	if time.Since(cu.CachedAt) > m.opts.Expiry {
		if err := m.store.Remove(ctx, userKey(userID)); err != nil {
			m.logger.Warn("failed to evict expired user entry", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return &cu.User
}

// ClearAll removes every cache-owned key. Best effort: partial failure is
// logged by the caller, not retried.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := []string{convKey, pendingKey}
	for _, prefix := range []string{msgKeyPrefix, userKeyPrefix} {
		found, err := m.store.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		keys = append(keys, found...)
	}
	return m.store.RemoveMany(ctx, keys)
}

// ClearExpired proactively runs the lazy expiry pass over every cached
// message blob and the conversation list, so conversations that are never
// read again still get pruned.
func (m *Manager) ClearExpired(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cachedConversationsLocked(ctx)

	keys, err := m.store.Keys(ctx, msgKeyPrefix)
	if err != nil {
		m.logger.Warn("failed to enumerate message caches for pruning", zap.Error(err))
		return
	}
	for _, key := range keys {
		m.cachedMessagesLocked(ctx, key[len(msgKeyPrefix):])
	}
}

// Stats is a diagnostic snapshot of cache occupancy.
type Stats struct {
	TotalMessages   int
	Conversations   int
	PendingMessages int
}

// GetStats aggregates cache occupancy. Diagnostic only; core logic never
// reads it.
func (m *Manager) GetStats(ctx context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	keys, err := m.store.Keys(ctx, msgKeyPrefix)
	if err == nil {
		for _, key := range keys {
			s.TotalMessages += len(m.readMessages(ctx, key[len(msgKeyPrefix):]))
		}
	}
	s.Conversations = len(m.cachedConversationsLocked(ctx))
	s.PendingMessages = len(m.readPending(ctx))
	return s
}

// readMessages loads a conversation's blob without expiry filtering.
func (m *Manager) readMessages(ctx context.Context, conversationID string) []CachedMessage {
	blob, ok, err := m.store.Get(ctx, msgKey(conversationID))
	if err != nil {
		m.logger.Warn("failed to read message cache",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var msgs []CachedMessage
	if err := json.Unmarshal([]byte(blob), &msgs); err != nil {
		m.logger.Warn("corrupt message cache, discarding",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return msgs
}

func (m *Manager) writeMessages(ctx context.Context, conversationID string, msgs []CachedMessage) error {
	blob, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, msgKey(conversationID), string(blob))
}

func sortMessages(msgs []CachedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Message.Before(&msgs[j].Message)
	})
}
