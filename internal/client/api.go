// Package client is the effect boundary of a chat client: it feeds bus
// events and store snapshots into the pure list reducers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/capitalize-ai/messenger/internal/common"
	"github.com/capitalize-ai/messenger/internal/model"
)

// API is the authoritative store as seen by a client.
type API interface {
	// ListConversations returns the viewer's conversations.
	ListConversations(ctx context.Context) ([]model.Conversation, error)

	// GetConversation returns one conversation with its messages.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// MarkSeen marks the last message of a conversation as seen.
	MarkSeen(ctx context.Context, conversationID string) (*model.SeenResponse, error)

	// EditMessage replaces a message body.
	EditMessage(ctx context.Context, messageID, body string) (*model.Message, error)

	// Presence returns the members currently online.
	Presence(ctx context.Context) ([]string, error)
}

// HTTPAPI is an API over the messenger HTTP server.
type HTTPAPI struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPAPI creates an API client. baseURL points at the /api/v1 root.
func NewHTTPAPI(baseURL, token string, timeout time.Duration) (*HTTPAPI, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", common.ErrValidation, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

var _ API = (*HTTPAPI)(nil)

// ListConversations implements API.
func (a *HTTPAPI) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp model.ListConversationsResponse
	if err := a.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetConversation implements API.
func (a *HTTPAPI) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := a.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// MarkSeen implements API.
func (a *HTTPAPI) MarkSeen(ctx context.Context, conversationID string) (*model.SeenResponse, error) {
	var resp model.SeenResponse
	if err := a.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/seen", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EditMessage implements API.
func (a *HTTPAPI) EditMessage(ctx context.Context, messageID, body string) (*model.Message, error) {
	var msg model.Message
	req := model.EditMessageRequest{Body: body}
	if err := a.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Presence implements API.
func (a *HTTPAPI) Presence(ctx context.Context) ([]string, error) {
	var snap model.PresenceSnapshot
	if err := a.do(ctx, http.MethodGet, "/presence", nil, &snap); err != nil {
		return nil, err
	}
	return snap.Members, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr model.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%w: %s %s: %s", errorFromStatus(resp.StatusCode), method, path, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func errorFromStatus(status int) error {
	switch status {
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusUnauthorized:
		return common.ErrUnauthorized
	case http.StatusForbidden:
		return common.ErrForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return common.ErrValidation
	case http.StatusConflict:
		return common.ErrConflict
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return common.ErrTransportUnavailable
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
