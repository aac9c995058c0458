// Package client talks to the daemon's control API over its Unix socket.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matfraga/papo/internal/api"
)

// Client wraps HTTP calls to the daemon socket. The host in request URLs
// is a placeholder; routing happens through the socket dial.
type Client struct {
	http *http.Client
	base string
}

// New returns a client bound to the daemon's Unix domain socket.
func New(socketPath string) *Client {
	return &Client{
		base: "http://papod",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.get(ctx, "/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Chats(ctx context.Context) ([]api.ChatResponse, error) {
	var resp []api.ChatResponse
	err := c.get(ctx, "/v1/chats", &resp)
	return resp, err
}

func (c *Client) OpenChat(ctx context.Context, chatID string) ([]api.MessageResponse, error) {
	var resp []api.MessageResponse
	err := c.post(ctx, "/v1/chats/"+url.PathEscape(chatID)+"/open", nil, &resp)
	return resp, err
}

func (c *Client) CloseChat(ctx context.Context, chatID string) error {
	return c.post(ctx, "/v1/chats/"+url.PathEscape(chatID)+"/close", nil, nil)
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]api.MessageResponse, error) {
	var resp []api.MessageResponse
	err := c.get(ctx, "/v1/chats/"+url.PathEscape(chatID)+"/messages", &resp)
	return resp, err
}

func (c *Client) Send(ctx context.Context, chatID, body string) (*api.MessageResponse, error) {
	var resp api.MessageResponse
	err := c.post(ctx, "/v1/messages", api.SendRequest{ChatID: chatID, Body: body}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]api.UserResponse, error) {
	var resp []api.UserResponse
	err := c.get(ctx, "/v1/users/search?query="+url.QueryEscape(query), &resp)
	return resp, err
}

func (c *Client) PromoteUser(ctx context.Context, u api.UserResponse) (*api.ChatResponse, error) {
	var resp api.ChatResponse
	err := c.post(ctx, "/v1/users/promote", api.PromoteRequest{ID: u.ID, Name: u.Name, Avatar: u.Avatar}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SearchMessages(ctx context.Context, query string) ([]api.SearchResultResponse, error) {
	var resp []api.SearchResultResponse
	err := c.get(ctx, "/v1/search/messages?query="+url.QueryEscape(query), &resp)
	return resp, err
}

// Events tails the daemon's event stream. The returned channel closes
// when the stream or the context ends.
func (c *Client) Events(ctx context.Context, prefix string) (<-chan api.EventResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/events?prefix="+url.QueryEscape(prefix), nil)
	if err != nil {
		return nil, err
	}
	// Streaming request: the client-level timeout would kill the tail.
	streaming := &http.Client{Transport: c.http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("event stream: status %d", resp.StatusCode)
	}

	out := make(chan api.EventResponse, 16)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev api.EventResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return fmt.Errorf("daemon: %s", e.Message)
		}
		return fmt.Errorf("daemon: status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
