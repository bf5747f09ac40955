package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// Client talks GraphQL-over-HTTP to the managed backend and graphql-ws to its
// realtime endpoint. It implements API.
type Client struct {
	endpoint   string
	wsEndpoint string
	httpc      *http.Client
	token      func() string
	logger     *zap.Logger
}

// NewClient creates a remote API client. token supplies the current auth
// token per request and may return empty for anonymous health probes.
func NewClient(endpoint, wsEndpoint string, token func() string, logger *zap.Logger) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		endpoint:   endpoint,
		wsEndpoint: wsEndpoint,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		token:      token,
		logger:     logger,
	}
}

// Endpoint returns the HTTP endpoint, used by the network monitor as its
// probe target.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType"`
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors"`
}

// do executes one GraphQL operation and returns the raw payload under the
// given top-level field.
func (c *Client) do(ctx context.Context, op, query string, vars map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, netError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindUnauthorized, Op: op, Message: serverErrorMessages["UnauthorizedException"]}
	}
	if resp.StatusCode >= 500 {
		return nil, &Error{Kind: KindInternal, Op: op, Message: fmt.Sprintf("server returned %d", resp.StatusCode)}
	}

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, netError(op, err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return nil, mapServerError(op, first.ErrorType, first.Message)
	}
	return out.Data[op], nil
}

const createMessageMutation = `mutation CreateMessage($input: CreateMessageInput!) {
  createMessage(input: $input) {
    id conversationId senderId content messageType attachments metadata
    createdAt updatedAt editedAt deletedAt
  }
}`

func (c *Client) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	raw, err := c.do(ctx, "createMessage", createMessageMutation, map[string]any{
		"input": encodeMessageInput(msg),
	})
	if err != nil {
		return model.Message{}, err
	}
	return decodeMessage(raw)
}

const updateMessageMutation = `mutation UpdateMessage($input: UpdateMessageInput!) {
  updateMessage(input: $input) {
    id conversationId senderId content messageType attachments metadata
    createdAt updatedAt editedAt deletedAt
  }
}`

func (c *Client) UpdateMessage(ctx context.Context, input UpdateMessageInput) (model.Message, error) {
	now := formatTime(time.Now())
	vars := map[string]any{
		"id":        input.ID,
		"updatedAt": now,
		"editedAt":  now,
	}
	if input.Content != "" {
		vars["content"] = input.Content
	}
	if len(input.Metadata) > 0 {
		b, _ := json.Marshal(input.Metadata)
		vars["metadata"] = string(b)
	}
	raw, err := c.do(ctx, "updateMessage", updateMessageMutation, map[string]any{"input": vars})
	if err != nil {
		return model.Message{}, err
	}
	return decodeMessage(raw)
}

const deleteMessageMutation = `mutation DeleteMessage($input: DeleteMessageInput!) {
  deleteMessage(input: $input) { id }
}`

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	_, err := c.do(ctx, "deleteMessage", deleteMessageMutation, map[string]any{
		"input": map[string]any{"id": id, "deletedAt": formatTime(time.Now())},
	})
	return err
}

const getMessageQuery = `query GetMessage($id: ID!) {
  getMessage(id: $id) {
    id conversationId senderId content messageType attachments metadata
    createdAt updatedAt editedAt deletedAt
  }
}`

func (c *Client) MessageByID(ctx context.Context, id string) (*model.Message, error) {
	raw, err := c.do(ctx, "getMessage", getMessageQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

const listMessagesQuery = `query MessagesByConversation($conversationId: ID!, $sortDirection: ModelSortDirection, $limit: Int, $nextToken: String) {
  messagesByConversationIdAndCreatedAt(conversationId: $conversationId, sortDirection: $sortDirection, limit: $limit, nextToken: $nextToken) {
    items {
      id conversationId senderId content messageType attachments metadata
      createdAt updatedAt editedAt deletedAt _deleted
    }
    nextToken
  }
}`

func (c *Client) ListMessages(ctx context.Context, conversationID string, opts ListOptions) (MessagePage, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.SortDirection == "" {
		opts.SortDirection = SortAsc
	}
	vars := map[string]any{
		"conversationId": conversationID,
		"sortDirection":  string(opts.SortDirection),
		"limit":          opts.Limit,
	}
	if opts.NextToken != "" {
		vars["nextToken"] = opts.NextToken
	}
	raw, err := c.do(ctx, "messagesByConversationIdAndCreatedAt", listMessagesQuery, vars)
	if err != nil {
		return MessagePage{}, err
	}
	items, nextToken, err := decodeConnection(raw)
	if err != nil {
		return MessagePage{}, err
	}

	page := MessagePage{NextToken: nextToken, HasMore: nextToken != ""}
	for _, item := range items {
		var w wireMessage
		if err := json.Unmarshal(item, &w); err != nil || w.Deleted {
			continue
		}
		msg, err := w.toModel()
		if err != nil {
			c.logger.Warn("skipping malformed message payload", zap.Error(err))
			continue
		}
		page.Messages = append(page.Messages, msg)
	}
	return page, nil
}

const listMessagesBySenderQuery = `query MessagesBySender($senderId: ID!, $sortDirection: ModelSortDirection, $limit: Int) {
  messagesBySenderIdAndCreatedAt(senderId: $senderId, sortDirection: $sortDirection, limit: $limit) {
    items {
      id conversationId senderId content messageType attachments metadata
      createdAt updatedAt editedAt deletedAt _deleted
    }
  }
}`

func (c *Client) ListMessagesBySender(ctx context.Context, senderID string, opts ListOptions) ([]model.Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.SortDirection == "" {
		opts.SortDirection = SortDesc
	}
	raw, err := c.do(ctx, "messagesBySenderIdAndCreatedAt", listMessagesBySenderQuery, map[string]any{
		"senderId":      senderID,
		"sortDirection": string(opts.SortDirection),
		"limit":         opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	items, _, err := decodeConnection(raw)
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	for _, item := range items {
		var w wireMessage
		if err := json.Unmarshal(item, &w); err != nil || w.Deleted {
			continue
		}
		if msg, err := w.toModel(); err == nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

const createConversationMutation = `mutation CreateConversation($input: CreateConversationInput!) {
  createConversation(input: $input) {
    id name description isGroup participants lastMessage lastMessageSender
    lastMessageAt createdBy createdAt updatedAt
  }
}`

func (c *Client) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	raw, err := c.do(ctx, "createConversation", createConversationMutation, map[string]any{
		"input": map[string]any{
			"id":           conv.ID,
			"name":         conv.Name,
			"description":  conv.Description,
			"isGroup":      conv.IsGroup,
			"participants": conv.Participants,
			"createdBy":    conv.CreatedBy,
			"createdAt":    formatTime(conv.CreatedAt),
			"updatedAt":    formatTime(conv.UpdatedAt),
		},
	})
	if err != nil {
		return model.Conversation{}, err
	}
	return decodeConversation(raw)
}

const updateConversationMutation = `mutation UpdateConversation($input: UpdateConversationInput!) {
  updateConversation(input: $input) {
    id name description isGroup participants lastMessage lastMessageSender
    lastMessageAt createdBy createdAt updatedAt
  }
}`

func (c *Client) UpdateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	input := map[string]any{
		"id":        conv.ID,
		"updatedAt": formatTime(time.Now()),
	}
	if conv.Name != "" {
		input["name"] = conv.Name
	}
	if conv.Description != "" {
		input["description"] = conv.Description
	}
	if conv.LastMessage != "" {
		input["lastMessage"] = conv.LastMessage
		input["lastMessageSender"] = conv.LastMessageSender
		input["lastMessageAt"] = formatTime(conv.LastMessageAt)
	}
	raw, err := c.do(ctx, "updateConversation", updateConversationMutation, map[string]any{"input": input})
	if err != nil {
		return model.Conversation{}, err
	}
	return decodeConversation(raw)
}

const getConversationQuery = `query GetConversation($id: ID!) {
  getConversation(id: $id) {
    id name description isGroup participants lastMessage lastMessageSender
    lastMessageAt createdBy createdAt updatedAt
  }
}`

func (c *Client) ConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	raw, err := c.do(ctx, "getConversation", getConversationQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	conv, err := decodeConversation(raw)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

const createParticipantMutation = `mutation CreateConversationParticipant($input: CreateConversationParticipantInput!) {
  createConversationParticipant(input: $input) { id }
}`

func (c *Client) CreateParticipant(ctx context.Context, p model.Participant) error {
	_, err := c.do(ctx, "createConversationParticipant", createParticipantMutation, map[string]any{
		"input": map[string]any{
			"id":             p.ID,
			"conversationId": p.ConversationID,
			"userId":         p.UserID,
			"role":           string(p.Role),
			"unreadCount":    p.UnreadCount,
			"joinedAt":       formatTime(p.JoinedAt),
		},
	})
	return err
}

const updateParticipantMutation = `mutation UpdateConversationParticipant($input: UpdateConversationParticipantInput!) {
  updateConversationParticipant(input: $input) { id }
}`

func (c *Client) UpdateParticipant(ctx context.Context, p model.Participant) error {
	input := map[string]any{
		"id":          p.ID,
		"unreadCount": p.UnreadCount,
	}
	if p.LeftAt != nil {
		input["leftAt"] = formatTime(*p.LeftAt)
	}
	if p.LastReadAt != nil {
		input["lastReadAt"] = formatTime(*p.LastReadAt)
	}
	_, err := c.do(ctx, "updateConversationParticipant", updateParticipantMutation, map[string]any{"input": input})
	return err
}

const participantsForUserQuery = `query ParticipantsByUser($userId: ID!, $sortDirection: ModelSortDirection) {
  conversationParticipantsByUserIdAndConversationId(userId: $userId, sortDirection: $sortDirection) {
    items { id conversationId userId role unreadCount joinedAt leftAt lastReadAt _deleted }
  }
}`

func (c *Client) ParticipantsForUser(ctx context.Context, userID string) ([]model.Participant, error) {
	raw, err := c.do(ctx, "conversationParticipantsByUserIdAndConversationId", participantsForUserQuery, map[string]any{
		"userId":        userID,
		"sortDirection": string(SortDesc),
	})
	if err != nil {
		return nil, err
	}
	items, _, err := decodeConnection(raw)
	if err != nil {
		return nil, err
	}
	var parts []model.Participant
	for _, item := range items {
		var w wireParticipant
		if err := json.Unmarshal(item, &w); err != nil || w.Deleted {
			continue
		}
		if p, err := w.toModel(); err == nil && p.LeftAt == nil {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

const participantForQuery = `query ParticipantsByConversation($conversationId: ID!, $userId: ModelIDKeyConditionInput) {
  conversationParticipantsByConversationIdAndUserId(conversationId: $conversationId, userId: $userId) {
    items { id conversationId userId role unreadCount joinedAt leftAt lastReadAt _deleted }
  }
}`

func (c *Client) ParticipantFor(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	raw, err := c.do(ctx, "conversationParticipantsByConversationIdAndUserId", participantForQuery, map[string]any{
		"conversationId": conversationID,
		"userId":         map[string]any{"eq": userID},
	})
	if err != nil {
		return nil, err
	}
	items, _, err := decodeConnection(raw)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		var w wireParticipant
		if err := json.Unmarshal(item, &w); err != nil || w.Deleted {
			continue
		}
		if p, err := w.toModel(); err == nil {
			return &p, nil
		}
	}
	return nil, nil
}

const getUserQuery = `query GetUser($id: ID!) {
  getUser(id: $id) {
    id username displayName email avatar status createdAt updatedAt
  }
}`

func (c *Client) UserByID(ctx context.Context, id string) (*model.User, error) {
	raw, err := c.do(ctx, "getUser", getUserQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var w wireUser
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	u, err := w.toModel()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// decodeConnection unpacks a {items, nextToken} list payload.
func decodeConnection(raw json.RawMessage) ([]json.RawMessage, string, error) {
	if isNull(raw) {
		return nil, "", nil
	}
	var conn struct {
		Items     []json.RawMessage `json:"items"`
		NextToken string            `json:"nextToken"`
	}
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, "", fmt.Errorf("decode connection: %w", err)
	}
	return conn.Items, conn.NextToken, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
