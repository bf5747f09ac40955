package feed

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/bus"
	"github.com/franciszver/cohort3-challenge2/internal/model"
)

func newTestFeed() (*Feed, *bus.Bus) {
	b := bus.New()
	return New("me", b, zap.NewNop()), b
}

func pushMsg(id, convID, senderID string, at time.Time) *model.Event {
	return &model.Event{
		Kind: model.EventMessageCreated,
		Message: &model.Message{
			ID: id, ConversationID: convID, SenderID: senderID,
			Content: "content " + id, CreatedAt: at, UpdatedAt: at,
		},
	}
}

func TestPushInsertsInOrder(t *testing.T) {
	f, _ := newTestFeed()
	now := time.Now()

	f.SeedMessages("c1", []model.Message{
		{ID: "m2", ConversationID: "c1", SenderID: "u2", CreatedAt: now.Add(2 * time.Second)},
	})
	f.Apply(pushMsg("m1", "c1", "u2", now))
	f.Apply(pushMsg("m3", "c1", "u2", now.Add(3*time.Second)))

	got := f.Messages("c1")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestPushDeduplicatesByID(t *testing.T) {
	f, _ := newTestFeed()
	now := time.Now()

	f.Apply(pushMsg("m1", "c1", "u2", now))
	f.Apply(pushMsg("m1", "c1", "u2", now))

	if got := f.Messages("c1"); len(got) != 1 {
		t.Errorf("len = %d, want 1 after duplicate push", len(got))
	}
}

func TestPushIgnoresOwnEcho(t *testing.T) {
	f, _ := newTestFeed()

	// The optimistic path already rendered this message locally; the server
	// echo must not create a second entry.
	f.SeedMessages("c1", []model.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "me", CreatedAt: time.Now()},
	})
	f.Apply(pushMsg("m2", "c1", "me", time.Now()))

	got := f.Messages("c1")
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("timeline = %+v, self-originated push must be ignored", got)
	}
}

func TestUpdateReplacesInPlace(t *testing.T) {
	f, b := newTestFeed()
	now := time.Now()
	f.SeedMessages("c1", []model.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "before", CreatedAt: now},
	})
	events, unsub := b.Subscribe("feed.", 8)
	defer unsub()

	f.Apply(&model.Event{
		Kind: model.EventMessageUpdated,
		Message: &model.Message{
			ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "after", CreatedAt: now,
		},
	})

	got := f.Messages("c1")
	if len(got) != 1 || got[0].Content != "after" {
		t.Errorf("timeline = %+v", got)
	}
	select {
	case evt := <-events:
		if evt.Kind != EventMessageUpdated {
			t.Errorf("event = %q, want %q", evt.Kind, EventMessageUpdated)
		}
	default:
		t.Error("no feed event published for the update")
	}

	// Updates for messages not in view are dropped silently.
	f.Apply(&model.Event{
		Kind:    model.EventMessageUpdated,
		Message: &model.Message{ID: "unknown", ConversationID: "c1", SenderID: "u2"},
	})
	if got := f.Messages("c1"); len(got) != 1 {
		t.Errorf("unknown update must not insert, timeline = %+v", got)
	}
}

func TestDeleteRemovesFromView(t *testing.T) {
	f, _ := newTestFeed()
	now := time.Now()
	f.SeedMessages("c1", []model.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "u2", CreatedAt: now},
		{ID: "m2", ConversationID: "c1", SenderID: "u2", CreatedAt: now.Add(time.Second)},
	})

	f.Apply(&model.Event{
		Kind:    model.EventMessageDeleted,
		Message: &model.Message{ID: "m1", ConversationID: "c1", SenderID: "u2"},
	})

	got := f.Messages("c1")
	if len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("timeline = %+v", got)
	}
}

func TestConversationPushDedupAndOrder(t *testing.T) {
	f, _ := newTestFeed()
	now := time.Now()

	older := model.Conversation{ID: "c1", LastMessageAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
	f.SeedConversations([]model.Conversation{older})

	newer := model.Conversation{ID: "c2", LastMessageAt: now, UpdatedAt: now}
	f.Apply(&model.Event{Kind: model.EventConversationCreated, Conversation: &newer})
	f.Apply(&model.Event{Kind: model.EventConversationCreated, Conversation: &newer})

	got := f.Conversations()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 after duplicate push", len(got))
	}
	if got[0].ID != "c2" || got[1].ID != "c1" {
		t.Errorf("order = %s, %s; want most recent first", got[0].ID, got[1].ID)
	}
}

func TestConversationUpdateResorts(t *testing.T) {
	f, _ := newTestFeed()
	now := time.Now()
	f.SeedConversations([]model.Conversation{
		{ID: "c1", LastMessageAt: now},
		{ID: "c2", LastMessageAt: now.Add(-time.Hour)},
	})

	// New activity in c2 moves it to the top.
	f.Apply(&model.Event{Kind: model.EventConversationUpdated, Conversation: &model.Conversation{
		ID: "c2", LastMessageAt: now.Add(time.Minute),
	}})

	got := f.Conversations()
	if got[0].ID != "c2" {
		t.Errorf("order = %s first, want c2 after activity bump", got[0].ID)
	}
}

func TestAddPublishesBusEvent(t *testing.T) {
	f, b := newTestFeed()
	events, unsub := b.Subscribe(EventMessageAdded, 4)
	defer unsub()

	f.Apply(pushMsg("m1", "c1", "u2", time.Now()))

	select {
	case evt := <-events:
		msg, ok := evt.Payload.(model.Message)
		if !ok || msg.ID != "m1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	default:
		t.Error("no feed event published for the insert")
	}
}
