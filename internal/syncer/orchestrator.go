// Package syncer reconciles local state with the backend. It drains the
// pending outbox, refreshes the conversation snapshot, and prunes expired
// cache entries. Sync runs are single-flight; overlapping requests collapse
// into the run already in progress.
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/bus"
	"github.com/franciszver/cohort3-challenge2/internal/cache"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/netmon"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
)

// Bus event kinds published by the orchestrator.
const (
	EventStarted       = "sync.started"
	EventCompleted     = "sync.completed"
	EventFailed        = "sync.failed"
	EventMessageSynced = "sync.message_synced"
)

// ConversationRefresher refetches the conversation snapshot from the backend
// and caches it. Implemented by the conversation service.
type ConversationRefresher interface {
	RefreshConversations(ctx context.Context) ([]model.Conversation, error)
}

// Options tunes the background sync.
type Options struct {
	Interval    time.Duration // background outbox drain cadence
	MaxAttempts int           // per outbox entry before it is parked
}

// Status is a point-in-time sync snapshot for diagnostics and the UI.
type Status struct {
	IsOnline        bool
	SyncInProgress  bool
	LastSyncTime    time.Time
	PendingMessages int
}

// Orchestrator coordinates sync runs.
type Orchestrator struct {
	cache     *cache.Manager
	api       remote.API
	monitor   *netmon.Monitor
	refresher ConversationRefresher
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	mu           sync.Mutex
	inProgress   bool
	lastSyncTime time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an orchestrator. refresher may be nil; full sync then skips the
// conversation refetch step.
func New(c *cache.Manager, api remote.API, monitor *netmon.Monitor, refresher ConversationRefresher, b *bus.Bus, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Orchestrator{
		cache:     c,
		api:       api,
		monitor:   monitor,
		refresher: refresher,
		bus:       b,
		logger:    logger,
		opts:      opts,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background loop: a periodic outbox drain plus a full
// sync on every reconnect.
func (o *Orchestrator) Start(ctx context.Context) error {
	events, unsub := o.bus.Subscribe(netmon.EventOnline, 4)
	go o.loop(events, unsub)
	return nil
}

// Stop ends the background loop and waits for it to exit.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stop) })
	select {
	case <-o.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (o *Orchestrator) loop(events <-chan bus.Event, unsub func()) {
	defer close(o.done)
	defer unsub()

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-events:
			o.logger.Info("reconnect detected, starting full sync")
			if err := o.FullSync(context.Background()); err != nil {
				o.logger.Warn("reconnect sync failed", zap.Error(err))
			}
		case <-ticker.C:
			if !o.monitor.Online() {
				continue
			}
			if err := o.QuickSync(context.Background()); err != nil {
				o.logger.Warn("background sync failed", zap.Error(err))
			}
		}
	}
}

// FullSync drains the outbox, refetches the conversation snapshot, and prunes
// expired cache entries. A no-op while offline or while another sync runs.
func (o *Orchestrator) FullSync(ctx context.Context) error {
	if !o.monitor.Online() {
		o.logger.Debug("skipping full sync while offline")
		return nil
	}
	if !o.begin() {
		o.logger.Debug("sync already in progress")
		return nil
	}
	defer o.end()

	o.publish(EventStarted)
	o.logger.Info("full sync started")

	if err := o.drainOutbox(ctx); err != nil {
		o.publish(EventFailed)
		return err
	}

	if o.refresher != nil {
		if _, err := o.refresher.RefreshConversations(ctx); err != nil {
			o.logger.Warn("conversation refresh failed", zap.Error(err))
			o.publish(EventFailed)
			return err
		}
	}

	o.cache.ClearExpired(ctx)

	o.mu.Lock()
	o.lastSyncTime = time.Now()
	o.mu.Unlock()
	o.publish(EventCompleted)
	o.logger.Info("full sync completed")
	return nil
}

// QuickSync drains the outbox only. A no-op while offline or while another
// sync runs.
func (o *Orchestrator) QuickSync(ctx context.Context) error {
	if !o.monitor.Online() {
		return nil
	}
	if !o.begin() {
		return nil
	}
	defer o.end()

	if err := o.drainOutbox(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	o.lastSyncTime = time.Now()
	o.mu.Unlock()
	return nil
}

// RetryFailed re-arms parked outbox entries: attempt counters reset, cached
// messages flip back to pending, then a drain runs.
func (o *Orchestrator) RetryFailed(ctx context.Context) error {
	if err := o.cache.ResetPendingAttempts(ctx); err != nil {
		return err
	}
	for _, p := range o.cache.PendingMessages(ctx) {
		if err := o.cache.UpdateMessageSyncStatus(ctx, p.Message.ConversationID, p.ID, model.SyncPending); err != nil {
			o.logger.Warn("failed to reset message status", zap.String("message_id", p.ID), zap.Error(err))
		}
	}
	return o.QuickSync(ctx)
}

// GetStatus returns the current sync snapshot.
func (o *Orchestrator) GetStatus(ctx context.Context) Status {
	o.mu.Lock()
	inProgress := o.inProgress
	last := o.lastSyncTime
	o.mu.Unlock()
	return Status{
		IsOnline:        o.monitor.Online(),
		SyncInProgress:  inProgress,
		LastSyncTime:    last,
		PendingMessages: len(o.cache.PendingMessages(ctx)),
	}
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inProgress {
		return false
	}
	o.inProgress = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inProgress = false
	o.mu.Unlock()
}

// drainOutbox attempts delivery of every eligible pending message. Entries
// at the attempt limit are skipped; a failed entry does not stop the drain.
func (o *Orchestrator) drainOutbox(ctx context.Context) error {
	pending := o.cache.PendingMessages(ctx)
	if len(pending) == 0 {
		return nil
	}
	o.logger.Info("draining outbox", zap.Int("pending", len(pending)))

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Attempts >= o.opts.MaxAttempts {
			continue
		}

		sent, err := o.api.CreateMessage(ctx, p.Message)
		if err != nil {
			o.noteFailure(ctx, p, err)
			continue
		}

		if err := o.cache.RemovePending(ctx, p.ID); err != nil {
			o.logger.Warn("failed to dequeue sent message", zap.String("message_id", p.ID), zap.Error(err))
		}
		if err := o.cache.UpdateMessageSyncStatus(ctx, sent.ConversationID, p.ID, model.SyncSynced); err != nil {
			o.logger.Warn("failed to mark message synced", zap.String("message_id", p.ID), zap.Error(err))
		}
		o.updateConversationPreview(ctx, sent)
		o.bus.Publish(bus.Event{Kind: EventMessageSynced, Timestamp: time.Now(), Payload: sent})
	}
	return nil
}

func (o *Orchestrator) noteFailure(ctx context.Context, p cache.PendingMessage, sendErr error) {
	if !remote.Retryable(sendErr) {
		// The server rejected the message outright; retrying cannot help.
		o.logger.Warn("dropping rejected message from outbox",
			zap.String("message_id", p.ID), zap.Error(sendErr))
		if err := o.cache.RemovePending(ctx, p.ID); err != nil {
			o.logger.Warn("failed to drop rejected message", zap.String("message_id", p.ID), zap.Error(err))
		}
		if err := o.cache.UpdateMessageSyncStatus(ctx, p.Message.ConversationID, p.ID, model.SyncFailed); err != nil {
			o.logger.Warn("failed to mark message failed", zap.String("message_id", p.ID), zap.Error(err))
		}
		return
	}

	o.logger.Warn("outbox send failed",
		zap.String("message_id", p.ID), zap.Int("attempts", p.Attempts+1), zap.Error(sendErr))
	if err := o.cache.MarkPendingFailed(ctx, p.ID); err != nil {
		o.logger.Warn("failed to record attempt", zap.String("message_id", p.ID), zap.Error(err))
	}
	if p.Attempts+1 >= o.opts.MaxAttempts {
		if err := o.cache.UpdateMessageSyncStatus(ctx, p.Message.ConversationID, p.ID, model.SyncFailed); err != nil {
			o.logger.Warn("failed to mark message failed", zap.String("message_id", p.ID), zap.Error(err))
		}
	}
}

// updateConversationPreview refreshes the conversation's last-message fields
// after a successful delivery. Best effort.
func (o *Orchestrator) updateConversationPreview(ctx context.Context, msg model.Message) {
	conv, err := o.api.ConversationByID(ctx, msg.ConversationID)
	if err != nil || conv == nil {
		return
	}
	if msg.CreatedAt.Before(conv.LastMessageAt) {
		return
	}
	conv.LastMessage = msg.Content
	conv.LastMessageSender = msg.SenderID
	conv.LastMessageAt = msg.CreatedAt
	if _, err := o.api.UpdateConversation(ctx, *conv); err != nil {
		o.logger.Debug("failed to update conversation preview",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(kind string) {
	o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: o.snapshotForEvent()})
}

func (o *Orchestrator) snapshotForEvent() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		IsOnline:       o.monitor.Online(),
		SyncInProgress: o.inProgress,
		LastSyncTime:   o.lastSyncTime,
	}
}
