// Package feed maintains the live in-memory view of conversations and their
// message timelines, merging realtime push events into state seeded from the
// cache-first read path. Self-originated message creations are ignored since
// the optimistic path already rendered them; everything else is deduplicated
// by id.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/bus"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
)

// Bus event kinds published by the feed.
const (
	EventMessageAdded       = "feed.message_added"
	EventMessageUpdated     = "feed.message_updated"
	EventMessageRemoved     = "feed.message_removed"
	EventConversationAdded  = "feed.conversation_added"
	EventConversationChange = "feed.conversation_updated"
)

// Feed merges realtime events into per-conversation timelines and the
// conversation list.
type Feed struct {
	localUserID string
	bus         *bus.Bus
	logger      *zap.Logger

	mu            sync.Mutex
	messages      map[string][]model.Message // per conversation, ascending
	conversations []model.Conversation       // most recent activity first

	subMu sync.Mutex
	subs  []*remote.Subscription
	wg    sync.WaitGroup
}

// New creates a feed for the given local user.
func New(localUserID string, b *bus.Bus, logger *zap.Logger) *Feed {
	return &Feed{
		localUserID: localUserID,
		bus:         b,
		logger:      logger,
		messages:    make(map[string][]model.Message),
	}
}

// SeedMessages initializes a conversation's timeline, replacing any prior
// view. Input order is preserved; callers seed from the cache, which is
// already ascending.
func (f *Feed) SeedMessages(conversationID string, msgs []model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conversationID] = append([]model.Message(nil), msgs...)
}

// SeedConversations initializes the conversation list.
func (f *Feed) SeedConversations(convs []model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append([]model.Conversation(nil), convs...)
}

// Messages returns a copy of a conversation's timeline.
func (f *Feed) Messages(conversationID string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.messages[conversationID]...)
}

// Conversations returns a copy of the conversation list.
func (f *Feed) Conversations() []model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Conversation(nil), f.conversations...)
}

// WatchMessages opens a realtime stream for one conversation and merges its
// events until the feed closes.
func (f *Feed) WatchMessages(ctx context.Context, api remote.API, conversationID string) error {
	sub, err := api.SubscribeMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	f.track(sub)
	return nil
}

// WatchConversations opens the conversation stream for the local user.
func (f *Feed) WatchConversations(ctx context.Context, api remote.API) error {
	sub, err := api.SubscribeConversations(ctx, f.localUserID)
	if err != nil {
		return fmt.Errorf("subscribe conversations: %w", err)
	}
	f.track(sub)
	return nil
}

func (f *Feed) track(sub *remote.Subscription) {
	f.subMu.Lock()
	f.subs = append(f.subs, sub)
	f.subMu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for evt := range sub.Events() {
			f.Apply(evt)
		}
	}()
}

// Close terminates every open stream and waits for the consumers to drain.
func (f *Feed) Close() {
	f.subMu.Lock()
	subs := f.subs
	f.subs = nil
	f.subMu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	f.wg.Wait()
}

// Apply merges one event into the view.
func (f *Feed) Apply(evt *model.Event) {
	switch evt.Kind {
	case model.EventMessageCreated:
		f.addMessage(evt.Message)
	case model.EventMessageUpdated:
		f.updateMessage(evt.Message)
	case model.EventMessageDeleted:
		f.removeMessage(evt.Message)
	case model.EventConversationCreated:
		f.addConversation(evt.Conversation)
	case model.EventConversationUpdated:
		f.updateConversation(evt.Conversation)
	default:
		f.logger.Debug("ignoring unknown event kind", zap.String("kind", string(evt.Kind)))
	}
}

// addMessage inserts a pushed message unless it is the echo of a local write
// (same sender as the local user) or a duplicate of one already in view.
func (f *Feed) addMessage(msg *model.Message) {
	if msg == nil {
		return
	}
	if msg.SenderID == f.localUserID {
		return
	}

	f.mu.Lock()
	timeline := f.messages[msg.ConversationID]
	for i := range timeline {
		if timeline[i].ID == msg.ID {
			f.mu.Unlock()
			return
		}
	}
	timeline = append(timeline, *msg)
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(&timeline[j]) })
	f.messages[msg.ConversationID] = timeline
	f.mu.Unlock()

	f.publish(EventMessageAdded, *msg)
}

func (f *Feed) updateMessage(msg *model.Message) {
	if msg == nil {
		return
	}

	f.mu.Lock()
	timeline := f.messages[msg.ConversationID]
	found := false
	for i := range timeline {
		if timeline[i].ID == msg.ID {
			timeline[i] = *msg
			found = true
			break
		}
	}
	f.mu.Unlock()

	if found {
		f.publish(EventMessageUpdated, *msg)
	}
}

func (f *Feed) removeMessage(msg *model.Message) {
	if msg == nil {
		return
	}

	f.mu.Lock()
	timeline := f.messages[msg.ConversationID]
	removed := false
	for i := range timeline {
		if timeline[i].ID == msg.ID {
			f.messages[msg.ConversationID] = append(timeline[:i:i], timeline[i+1:]...)
			removed = true
			break
		}
	}
	f.mu.Unlock()

	if removed {
		f.publish(EventMessageRemoved, *msg)
	}
}

func (f *Feed) addConversation(conv *model.Conversation) {
	if conv == nil {
		return
	}

	f.mu.Lock()
	for i := range f.conversations {
		if f.conversations[i].ID == conv.ID {
			f.mu.Unlock()
			return
		}
	}
	f.conversations = append([]model.Conversation{*conv}, f.conversations...)
	f.sortConversationsLocked()
	f.mu.Unlock()

	f.publish(EventConversationAdded, *conv)
}

func (f *Feed) updateConversation(conv *model.Conversation) {
	if conv == nil {
		return
	}

	f.mu.Lock()
	found := false
	for i := range f.conversations {
		if f.conversations[i].ID == conv.ID {
			f.conversations[i] = *conv
			found = true
			break
		}
	}
	if !found {
		f.conversations = append(f.conversations, *conv)
	}
	f.sortConversationsLocked()
	f.mu.Unlock()

	f.publish(EventConversationChange, *conv)
}

func (f *Feed) sortConversationsLocked() {
	sort.SliceStable(f.conversations, func(i, j int) bool {
		return conversationActivity(f.conversations[i]).After(conversationActivity(f.conversations[j]))
	})
}

func conversationActivity(c model.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.UpdatedAt
}

func (f *Feed) publish(kind string, payload any) {
	f.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
