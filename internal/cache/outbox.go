package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// PendingMessage is an outbox entry awaiting delivery. ID matches the
// optimistic message id so the cache entry can be reconciled after send.
type PendingMessage struct {
	ID        string        `json:"id"`
	Message   model.Message `json:"message"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
}

// StorePending appends a message to the outbox with a zero attempt count.
func (m *Manager) StorePending(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.readPending(ctx)
	pending = append(pending, PendingMessage{
		ID:        msg.ID,
		Message:   msg,
		Attempts:  0,
		CreatedAt: time.Now(),
	})
	return m.writePending(ctx, pending)
}

// PendingMessages returns the outbox in enqueue order.
func (m *Manager) PendingMessages(ctx context.Context) []PendingMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readPending(ctx)
}

// RemovePending drops the entry with the given id. No-op if absent.
func (m *Manager) RemovePending(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.readPending(ctx)
	out := pending[:0:len(pending)]
	for _, p := range pending {
		if p.ID != id {
			out = append(out, p)
		}
	}
	if len(out) == len(pending) {
		return nil
	}
	return m.writePending(ctx, out)
}

// MarkPendingFailed increments the attempt counter on the matching entry.
// The entry stays in the outbox regardless of count; the sync pass decides
// when to stop retrying.
func (m *Manager) MarkPendingFailed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.readPending(ctx)
	found := false
	for i := range pending {
		if pending[i].ID == id {
			pending[i].Attempts++
			found = true
		}
	}
	if !found {
		return nil
	}
	return m.writePending(ctx, pending)
}

// ResetPendingAttempts zeroes every attempt counter so entries parked past
// the retry limit become eligible again. Used by manual retry.
func (m *Manager) ResetPendingAttempts(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.readPending(ctx)
	if len(pending) == 0 {
		return nil
	}
	for i := range pending {
		pending[i].Attempts = 0
	}
	return m.writePending(ctx, pending)
}

func (m *Manager) readPending(ctx context.Context) []PendingMessage {
	blob, ok, err := m.store.Get(ctx, pendingKey)
	if err != nil {
		m.logger.Warn("failed to read outbox", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var pending []PendingMessage
	if err := json.Unmarshal([]byte(blob), &pending); err != nil {
		m.logger.Warn("corrupt outbox, discarding", zap.Error(err))
		return nil
	}
	return pending
}

func (m *Manager) writePending(ctx context.Context, pending []PendingMessage) error {
	blob, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, pendingKey, string(blob))
}
