package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/bus"
	"github.com/franciszver/cohort3-challenge2/internal/cache"
	"github.com/franciszver/cohort3-challenge2/internal/kv"
	"github.com/franciszver/cohort3-challenge2/internal/model"
	"github.com/franciszver/cohort3-challenge2/internal/netmon"
	"github.com/franciszver/cohort3-challenge2/internal/remote"
	"github.com/franciszver/cohort3-challenge2/internal/remote/remotetest"
)

type fakeRefresher struct {
	calls atomic.Int32
}

func (f *fakeRefresher) RefreshConversations(ctx context.Context) ([]model.Conversation, error) {
	f.calls.Add(1)
	return nil, nil
}

type harness struct {
	orch    *Orchestrator
	fake    *remotetest.Fake
	mgr     *cache.Manager
	monitor *netmon.Monitor
	bus     *bus.Bus
	refresh *fakeRefresher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.New()
	fake := remotetest.New()
	mgr := cache.NewManager(kv.NewMemory(), cache.DefaultOptions(), zap.NewNop())
	monitor := netmon.New(func(ctx context.Context) error { return nil }, netmon.Options{
		ProbeInterval: time.Hour,
	}, b, zap.NewNop())
	refresh := &fakeRefresher{}
	orch := New(mgr, fake, monitor, refresh, b, zap.NewNop(), Options{
		Interval:    time.Hour,
		MaxAttempts: 3,
	})
	return &harness{orch: orch, fake: fake, mgr: mgr, monitor: monitor, bus: b, refresh: refresh}
}

func pendingMsg(id, convID string) model.Message {
	now := time.Now()
	return model.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "u1",
		Content:        "offline " + id,
		Type:           model.MessageText,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (h *harness) enqueue(t *testing.T, msg model.Message) {
	t.Helper()
	ctx := context.Background()
	if err := h.mgr.CacheOptimisticMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.StorePending(ctx, msg); err != nil {
		t.Fatal(err)
	}
}

func TestFullSyncDrainsOutbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("p1", "c1"))
	h.enqueue(t, pendingMsg("p2", "c1"))

	if err := h.orch.FullSync(ctx); err != nil {
		t.Fatal(err)
	}

	if n := len(h.mgr.PendingMessages(ctx)); n != 0 {
		t.Errorf("outbox has %d entries after sync, want 0", n)
	}
	if n := h.fake.Calls("CreateMessage"); n != 2 {
		t.Errorf("CreateMessage called %d times, want 2", n)
	}
	for _, cm := range h.mgr.CachedMessages(ctx, "c1") {
		if cm.SyncStatus != model.SyncSynced {
			t.Errorf("message %s status = %q, want synced", cm.ID, cm.SyncStatus)
		}
	}
	if n := h.refresh.calls.Load(); n != 1 {
		t.Errorf("refresher called %d times, want 1", n)
	}

	st := h.orch.GetStatus(ctx)
	if st.LastSyncTime.IsZero() {
		t.Error("LastSyncTime not recorded")
	}
	if st.SyncInProgress {
		t.Error("SyncInProgress should be false after completion")
	}
}

func TestFullSyncSkipsWhileOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("p1", "c1"))
	h.monitor.SimulateOffline()

	if err := h.orch.FullSync(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(h.mgr.PendingMessages(ctx)); n != 1 {
		t.Errorf("outbox drained while offline")
	}
	if n := h.fake.Calls("CreateMessage"); n != 0 {
		t.Errorf("CreateMessage called %d times while offline", n)
	}
}

func TestDrainContinuesPastRetryableFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("bad", "c1"))
	h.enqueue(t, pendingMsg("good", "c1"))
	h.fake.CreateMessageFn = func(ctx context.Context, msg model.Message) (model.Message, error) {
		if msg.ID == "bad" {
			return model.Message{}, &remote.Error{Kind: remote.KindNetwork, Op: "createMessage", Message: "timeout"}
		}
		return msg, nil
	}

	if err := h.orch.QuickSync(ctx); err != nil {
		t.Fatal(err)
	}

	pending := h.mgr.PendingMessages(ctx)
	if len(pending) != 1 || pending[0].ID != "bad" {
		t.Fatalf("pending = %+v, want only the failed entry", pending)
	}
	if pending[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", pending[0].Attempts)
	}
}

func TestDrainSkipsParkedEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("parked", "c1"))
	for i := 0; i < 3; i++ {
		if err := h.mgr.MarkPendingFailed(ctx, "parked"); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.orch.QuickSync(ctx); err != nil {
		t.Fatal(err)
	}
	if n := h.fake.Calls("CreateMessage"); n != 0 {
		t.Errorf("parked entry was attempted %d times", n)
	}
	if n := len(h.mgr.PendingMessages(ctx)); n != 1 {
		t.Errorf("parked entry must stay in the outbox")
	}
}

func TestExhaustedRetriesMarkMessageFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("p1", "c1"))
	h.fake.CreateMessageFn = func(ctx context.Context, msg model.Message) (model.Message, error) {
		return model.Message{}, &remote.Error{Kind: remote.KindNetwork, Op: "createMessage", Message: "timeout"}
	}

	for i := 0; i < 3; i++ {
		if err := h.orch.QuickSync(ctx); err != nil {
			t.Fatal(err)
		}
	}

	msgs := h.mgr.CachedMessages(ctx, "c1")
	if len(msgs) != 1 || msgs[0].SyncStatus != model.SyncFailed {
		t.Errorf("message = %+v, want failed after exhausted retries", msgs)
	}
}

func TestNonRetryableRejectionDropsEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("p1", "c1"))
	h.fake.CreateMessageFn = func(ctx context.Context, msg model.Message) (model.Message, error) {
		return model.Message{}, &remote.Error{Kind: remote.KindValidation, Op: "createMessage", Message: "bad input"}
	}

	if err := h.orch.QuickSync(ctx); err != nil {
		t.Fatal(err)
	}

	if n := len(h.mgr.PendingMessages(ctx)); n != 0 {
		t.Errorf("rejected entry kept in outbox")
	}
	msgs := h.mgr.CachedMessages(ctx, "c1")
	if len(msgs) != 1 || msgs[0].SyncStatus != model.SyncFailed {
		t.Errorf("message = %+v, want failed", msgs)
	}
}

func TestConcurrentSyncsCollapse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("p1", "c1"))

	release := make(chan struct{})
	h.fake.CreateMessageFn = func(ctx context.Context, msg model.Message) (model.Message, error) {
		<-release
		return msg, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.FullSync(ctx)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := h.fake.Calls("CreateMessage"); n != 1 {
		t.Errorf("CreateMessage called %d times, want 1 (single flight)", n)
	}
}

func TestRetryFailedReArmsParkedEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enqueue(t, pendingMsg("p1", "c1"))
	for i := 0; i < 3; i++ {
		if err := h.mgr.MarkPendingFailed(ctx, "p1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.mgr.UpdateMessageSyncStatus(ctx, "c1", "p1", model.SyncFailed); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.RetryFailed(ctx); err != nil {
		t.Fatal(err)
	}

	if n := len(h.mgr.PendingMessages(ctx)); n != 0 {
		t.Errorf("outbox has %d entries after retry, want 0", n)
	}
	msgs := h.mgr.CachedMessages(ctx, "c1")
	if len(msgs) != 1 || msgs[0].SyncStatus != model.SyncSynced {
		t.Errorf("message = %+v, want synced after retry", msgs)
	}
}

func TestReconnectTriggersFullSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.monitor.SimulateOffline()
	h.enqueue(t, pendingMsg("p1", "c1"))

	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.orch.Stop(stopCtx)
	}()

	h.monitor.SimulateOnline()

	deadline := time.After(2 * time.Second)
	for {
		if len(h.mgr.PendingMessages(ctx)) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("outbox not drained after reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if n := h.refresh.calls.Load(); n != 1 {
		t.Errorf("refresher called %d times after reconnect, want 1", n)
	}
}

func TestSyncPublishesLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe("sync.", 16)
	defer unsub()

	h.enqueue(t, pendingMsg("p1", "c1"))
	if err := h.orch.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	var kinds []string
	for {
		select {
		case evt := <-events:
			kinds = append(kinds, evt.Kind)
			if evt.Kind == EventCompleted {
				want := []string{EventStarted, EventMessageSynced, EventCompleted}
				if len(kinds) != len(want) {
					t.Fatalf("kinds = %v, want %v", kinds, want)
				}
				for i := range want {
					if kinds[i] != want[i] {
						t.Fatalf("kinds = %v, want %v", kinds, want)
					}
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("missing lifecycle events, got %v", kinds)
		}
	}
}
