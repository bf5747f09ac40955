package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// Subscription is a live event stream from the backend. Events() is closed
// when the subscription ends; call Close to end it early.
type Subscription struct {
	events chan *model.Event
	cancel context.CancelFunc
	once   sync.Once
}

// Events returns the decoded event channel.
func (s *Subscription) Events() <-chan *model.Event {
	return s.events
}

// Close terminates the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// graphql-ws frame types (the subset the backend speaks).
const (
	wsConnectionInit = "connection_init"
	wsConnectionAck  = "connection_ack"
	wsStart          = "start"
	wsData           = "data"
	wsError          = "error"
	wsComplete       = "complete"
	wsKeepAlive      = "ka"
)

type wsFrame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const onMessageSubscription = `subscription OnMessage($filter: ModelSubscriptionMessageFilterInput) {
  onCreateMessage(filter: $filter) {
    id conversationId senderId content messageType attachments metadata
    createdAt updatedAt editedAt deletedAt
  }
  onUpdateMessage(filter: $filter) {
    id conversationId senderId content messageType attachments metadata
    createdAt updatedAt editedAt deletedAt
  }
  onDeleteMessage(filter: $filter) { id conversationId senderId createdAt }
}`

const onConversationSubscription = `subscription OnConversation($filter: ModelSubscriptionConversationFilterInput) {
  onCreateConversation(filter: $filter) {
    id name description isGroup participants lastMessage lastMessageSender
    lastMessageAt createdBy createdAt updatedAt
  }
  onUpdateConversation(filter: $filter) {
    id name description isGroup participants lastMessage lastMessageSender
    lastMessageAt createdBy createdAt updatedAt
  }
}`

// SubscribeMessages opens a message event stream filtered by conversation id.
func (c *Client) SubscribeMessages(ctx context.Context, conversationID string) (*Subscription, error) {
	filter := map[string]any{"conversationId": map[string]any{"eq": conversationID}}
	return c.subscribe(ctx, "messages:"+conversationID, onMessageSubscription, filter)
}

// SubscribeConversations opens a conversation event stream for conversations
// the user participates in.
func (c *Client) SubscribeConversations(ctx context.Context, userID string) (*Subscription, error) {
	filter := map[string]any{"participants": map[string]any{"contains": userID}}
	return c.subscribe(ctx, "conversations:"+userID, onConversationSubscription, filter)
}

func (c *Client) subscribe(ctx context.Context, id, query string, filter map[string]any) (*Subscription, error) {
	if c.wsEndpoint == "" {
		return nil, &Error{Kind: KindValidation, Op: "subscribe", Message: "no realtime endpoint configured"}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsEndpoint, nil)
	if err != nil {
		return nil, netError("subscribe", err)
	}

	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	start := wsFrame{ID: id, Type: wsStart}
	startPayload, _ := json.Marshal(gqlRequest{
		Query:     query,
		Variables: map[string]any{"filter": filter},
	})
	start.Payload = startPayload
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, netError("subscribe", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan *model.Event, 64),
		cancel: cancel,
	}

	go c.readLoop(ctx, conn, sub)
	return sub, nil
}

func (c *Client) handshake(conn *websocket.Conn) error {
	init := wsFrame{Type: wsConnectionInit}
	if tok := c.token(); tok != "" {
		init.Payload, _ = json.Marshal(map[string]string{"Authorization": tok})
	}
	if err := conn.WriteJSON(init); err != nil {
		return netError("subscribe", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack wsFrame
	if err := conn.ReadJSON(&ack); err != nil {
		return netError("subscribe", err)
	}
	if ack.Type != wsConnectionAck {
		return &Error{Kind: KindInternal, Op: "subscribe", Message: fmt.Sprintf("unexpected handshake frame %q", ack.Type)}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	defer close(sub.events)
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("subscription read failed", zap.Error(err))
			}
			return
		}

		switch frame.Type {
		case wsKeepAlive:
			continue
		case wsComplete:
			return
		case wsError:
			c.logger.Warn("subscription error frame", zap.ByteString("payload", frame.Payload))
			continue
		case wsData:
		default:
			continue
		}

		var payload gqlResponse
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Warn("malformed subscription payload", zap.Error(err))
			continue
		}
		for field, raw := range payload.Data {
			if isNull(raw) {
				continue
			}
			evt, err := decodeEvent(field, raw)
			if err != nil {
				c.logger.Warn("dropping undecodable event", zap.String("field", field), zap.Error(err))
				continue
			}
			select {
			case sub.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}
