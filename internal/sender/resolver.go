// Package sender resolves sender ids to display identity. Lookups go memo,
// then persistent cache, then backend; concurrent lookups for the same id
// collapse into one request. Failed lookups yield a short-lived placeholder
// so message rendering never blocks on an unresolvable id.
package sender

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/cache"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
)

const (
	defaultMaxEntries     = 100
	defaultPlaceholderTTL = time.Minute
)

type entry struct {
	info        model.SenderInfo
	placeholder bool
	expires     time.Time // zero means never
}

type call struct {
	done chan struct{}
	info model.SenderInfo
}

// Resolver memoizes sender identity lookups.
type Resolver struct {
	api    remote.API
	cache  *cache.Manager
	logger *zap.Logger

	mu       sync.Mutex
	memo     map[string]entry
	order    []string // insertion order, oldest first
	inflight map[string]*call

	maxEntries     int
	placeholderTTL time.Duration
}

// NewResolver creates a resolver with the default memo bound.
func NewResolver(api remote.API, c *cache.Manager, logger *zap.Logger) *Resolver {
	return &Resolver{
		api:            api,
		cache:          c,
		logger:         logger,
		memo:           make(map[string]entry),
		inflight:       make(map[string]*call),
		maxEntries:     defaultMaxEntries,
		placeholderTTL: defaultPlaceholderTTL,
	}
}

// Resolve returns display identity for a sender id. Never fails: when both
// cache and backend come up empty the result is a placeholder that expires
// after a short TTL so later resolves retry.
func (r *Resolver) Resolve(ctx context.Context, senderID string) model.SenderInfo {
	r.mu.Lock()
	if e, ok := r.memo[senderID]; ok {
		if !e.placeholder || e.expires.After(time.Now()) {
			r.mu.Unlock()
			return e.info
		}
		r.deleteLocked(senderID)
	}
	if c, ok := r.inflight[senderID]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.info
		case <-ctx.Done():
			return r.placeholder(senderID)
		}
	}
	c := &call{done: make(chan struct{})}
	r.inflight[senderID] = c
	r.mu.Unlock()

	info, placeholder := r.lookup(ctx, senderID)
	c.info = info

	r.mu.Lock()
	delete(r.inflight, senderID)
	r.insertLocked(senderID, entry{
		info:        info,
		placeholder: placeholder,
		expires:     expiryFor(placeholder, r.placeholderTTL),
	})
	r.mu.Unlock()
	close(c.done)
	return info
}

func expiryFor(placeholder bool, ttl time.Duration) time.Time {
	if !placeholder {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (r *Resolver) lookup(ctx context.Context, senderID string) (model.SenderInfo, bool) {
	if u := r.cache.CachedUserProfile(ctx, senderID); u != nil {
		return toSenderInfo(*u), false
	}

	u, err := r.api.UserByID(ctx, senderID)
	if err != nil || u == nil {
		if err != nil {
			r.logger.Debug("sender lookup failed, using placeholder",
				zap.String("sender_id", senderID), zap.Error(err))
		}
		return r.placeholder(senderID), true
	}

	if err := r.cache.CacheUserProfile(ctx, *u); err != nil {
		r.logger.Warn("failed to cache sender profile", zap.String("sender_id", senderID), zap.Error(err))
	}
	return toSenderInfo(*u), false
}

func (r *Resolver) placeholder(senderID string) model.SenderInfo {
	short := senderID
	if len(short) > 8 {
		short = short[:8]
	}
	return model.SenderInfo{ID: senderID, DisplayName: "User " + short}
}

// insertLocked stores an entry and evicts the oldest entries past the bound.
func (r *Resolver) insertLocked(senderID string, e entry) {
	if _, exists := r.memo[senderID]; !exists {
		r.order = append(r.order, senderID)
	}
	r.memo[senderID] = e
	for len(r.order) > r.maxEntries {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.memo, oldest)
	}
}

// Batch resolves a set of ids concurrently and returns a result per id.
func (r *Resolver) Batch(ctx context.Context, senderIDs []string) map[string]model.SenderInfo {
	out := make(map[string]model.SenderInfo, len(senderIDs))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	seen := make(map[string]bool, len(senderIDs))
	for _, id := range senderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			info := r.Resolve(ctx, id)
			mu.Lock()
			out[id] = info
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// Prefetch warms the memo in the background. Fire and forget.
func (r *Resolver) Prefetch(senderIDs []string) {
	ids := make([]string, len(senderIDs))
	copy(ids, senderIDs)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.Batch(ctx, ids)
	}()
}

// Invalidate drops a memoized entry so the next resolve refetches.
func (r *Resolver) Invalidate(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(senderID)
}

// deleteLocked removes an entry from the memo and its id from the eviction
// order. The two must stay in lockstep: a stale order entry would evict a
// live one later.
func (r *Resolver) deleteLocked(senderID string) {
	if _, ok := r.memo[senderID]; !ok {
		return
	}
	delete(r.memo, senderID)
	for i, id := range r.order {
		if id == senderID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Clear drops every memoized entry. Used on sign-out.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[string]entry)
	r.order = nil
}

// Len returns the memo occupancy.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.memo)
}

func toSenderInfo(u model.User) model.SenderInfo {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return model.SenderInfo{
		ID:          u.ID,
		DisplayName: name,
		Username:    u.Username,
		Avatar:      u.Avatar,
		Status:      u.Status,
	}
}
