package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

func TestDecodeMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "m1",
		"conversationId": "c1",
		"senderId": "u1",
		"content": "hello",
		"messageType": "text",
		"metadata": "{\"k\":\"v\"}",
		"createdAt": "2024-01-02T03:04:05Z",
		"updatedAt": "2024-01-02T03:04:05Z"
	}`)

	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "m1" || msg.ConversationID != "c1" || msg.SenderID != "u1" {
		t.Errorf("decoded = %+v", msg)
	}
	if msg.Type != model.MessageText {
		t.Errorf("type = %q, want text", msg.Type)
	}
	if msg.Metadata["k"] != "v" {
		t.Errorf("metadata = %v, want k=v", msg.Metadata)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !msg.CreatedAt.Equal(want) {
		t.Errorf("createdAt = %v, want %v", msg.CreatedAt, want)
	}
}

func TestDecodeMessageMissingID(t *testing.T) {
	raw := json.RawMessage(`{"conversationId": "c1", "content": "hello"}`)
	if _, err := decodeMessage(raw); err == nil {
		t.Error("decodeMessage without id should fail")
	}
}

func TestDecodeMessageDefaultsType(t *testing.T) {
	raw := json.RawMessage(`{"id": "m1", "conversationId": "c1"}`)
	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != model.MessageText {
		t.Errorf("type = %q, want text default", msg.Type)
	}
}

func TestDecodeMessageBadMetadataIsDropped(t *testing.T) {
	raw := json.RawMessage(`{"id": "m1", "conversationId": "c1", "metadata": "not-json"}`)
	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Metadata != nil {
		t.Errorf("metadata = %v, want nil for unparseable metadata", msg.Metadata)
	}
}

func TestDecodeEventUnion(t *testing.T) {
	msgRaw := json.RawMessage(`{"id": "m1", "conversationId": "c1", "senderId": "u1"}`)
	convRaw := json.RawMessage(`{"id": "c1", "isGroup": false, "participants": ["u1","u2"]}`)

	tests := []struct {
		field string
		raw   json.RawMessage
		kind  model.EventKind
	}{
		{"onCreateMessage", msgRaw, model.EventMessageCreated},
		{"onUpdateMessage", msgRaw, model.EventMessageUpdated},
		{"onDeleteMessage", msgRaw, model.EventMessageDeleted},
		{"onCreateConversation", convRaw, model.EventConversationCreated},
		{"onUpdateConversation", convRaw, model.EventConversationUpdated},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			evt, err := decodeEvent(tt.field, tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if evt.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", evt.Kind, tt.kind)
			}
			if (evt.Message == nil) == (evt.Conversation == nil) {
				t.Error("exactly one union member must be set")
			}
		})
	}
}

func TestDecodeEventUnknownField(t *testing.T) {
	if _, err := decodeEvent("onSomethingElse", json.RawMessage(`{}`)); err == nil {
		t.Error("unknown subscription field should fail decoding")
	}
}

func TestMapServerError(t *testing.T) {
	tests := []struct {
		errorType string
		kind      ErrorKind
		retryable bool
	}{
		{"ValidationException", KindValidation, false},
		{"UnauthorizedException", KindUnauthorized, false},
		{"ResourceNotFoundException", KindNotFound, false},
		{"ConditionalCheckFailedException", KindConflict, false},
		{"NetworkError", KindNetwork, true},
		{"SomethingUnmapped", KindInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.errorType, func(t *testing.T) {
			err := mapServerError("createMessage", tt.errorType, "raw detail")
			if err.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", err.Kind, tt.kind)
			}
			if err.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.retryable)
			}
			if err.Message == "" {
				t.Error("mapped error must carry a message")
			}
		})
	}
}

func TestRetryableUnwrapsTypedErrors(t *testing.T) {
	if Retryable(&Error{Kind: KindValidation}) {
		t.Error("validation errors are not retryable")
	}
	if !Retryable(&Error{Kind: KindNetwork}) {
		t.Error("network errors are retryable")
	}
	// Untyped transport errors default to retryable.
	if !Retryable(json.Unmarshal([]byte("{"), &struct{}{})) {
		t.Error("untyped errors default to retryable")
	}
}
