// Package rest implements the REST collaborator surface the realtime core
// consumes, speaking to the chatlink server endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatlink/pkg/presence"
	"chatlink/pkg/realtime"
)

// Client talks to the chat REST API with a bearer token. It satisfies
// client.API.
type Client struct {
	baseURL string
	tokens  realtime.TokenSource
	http    *http.Client
}

// NewClient creates a REST client. httpClient may be nil for a default with
// a 10s timeout.
func NewClient(baseURL string, tokens realtime.TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, tokens: tokens, http: httpClient}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		return fmt.Errorf("%s %s: %s (status %d)", method, path, env.Message, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// Login obtains a development session token for the user id.
func (c *Client) Login(ctx context.Context, userID int64) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", nil,
		map[string]interface{}{"user_id": userID}, &data)
	if err != nil {
		return "", err
	}
	return data.Token, nil
}

// History fetches a page of conversation history with the peer.
func (c *Client) History(ctx context.Context, peerID int64, skip, limit int) ([]realtime.Message, error) {
	q := url.Values{}
	q.Set("peer_id", strconv.FormatInt(peerID, 10))
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	var data struct {
		Messages []realtime.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages", q, nil, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

func (c *Client) send(ctx context.Context, body map[string]interface{}) (realtime.Message, error) {
	var data struct {
		Message realtime.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", nil, body, &data); err != nil {
		return realtime.Message{}, err
	}
	return data.Message, nil
}

// SendText sends a text message and returns the authoritative record.
func (c *Client) SendText(ctx context.Context, receiverID int64, content string) (realtime.Message, error) {
	return c.send(ctx, map[string]interface{}{
		"receiver_id":  receiverID,
		"message_type": string(realtime.MessageText),
		"content":      content,
	})
}

// SendImage sends an image message.
func (c *Client) SendImage(ctx context.Context, receiverID int64, fileURL string) (realtime.Message, error) {
	return c.send(ctx, map[string]interface{}{
		"receiver_id":  receiverID,
		"message_type": string(realtime.MessageImage),
		"file_url":     fileURL,
	})
}

// SendVoice sends a voice message with its duration in seconds.
func (c *Client) SendVoice(ctx context.Context, receiverID int64, fileURL string, duration int) (realtime.Message, error) {
	return c.send(ctx, map[string]interface{}{
		"receiver_id":  receiverID,
		"message_type": string(realtime.MessageVoice),
		"file_url":     fileURL,
		"duration":     duration,
	})
}

// MarkRead persists read state for every message from the peer.
func (c *Client) MarkRead(ctx context.Context, peerID int64) error {
	return c.do(ctx, http.MethodPost, "/messages/read", nil,
		map[string]interface{}{"peer_id": peerID}, nil)
}

// DeleteMessage removes a message server side.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+strconv.FormatInt(messageID, 10), nil, nil, nil)
}

// OnlineStatus answers the bulk presence query.
func (c *Client) OnlineStatus(ctx context.Context, userIDs []int64) ([]presence.Entry, error) {
	var data struct {
		Statuses []presence.Entry `json:"statuses"`
	}
	err := c.do(ctx, http.MethodPost, "/presence/status", nil,
		map[string]interface{}{"user_ids": userIDs}, &data)
	if err != nil {
		return nil, err
	}
	return data.Statuses, nil
}
