package model

// EventKind tags the variants of the realtime event union.
type EventKind string

const (
	EventMessageCreated      EventKind = "message.created"
	EventMessageUpdated      EventKind = "message.updated"
	EventMessageDeleted      EventKind = "message.deleted"
	EventConversationCreated EventKind = "conversation.created"
	EventConversationUpdated EventKind = "conversation.updated"
)

// Event is a decoded realtime push event. Exactly one of Message and
// Conversation is set, matching Kind. Raw payloads are validated and mapped
// into this union at the API boundary; the feed never sees untyped data.
type Event struct {
	Kind         EventKind
	Message      *Message
	Conversation *Conversation
}
