// Package control exposes the daemon's operations over a local HTTP
// and WebSocket API. This file contains the client the command line
// tool uses to talk to a running daemon.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/ikesession/ikesessiond/common"
)

// Client talks to the daemon's control API. The zero timeout on the
// underlying HTTP client is intentional: a connect call blocks for the
// whole attempt, so lifetimes are governed by the caller's context.
type Client struct {
	host  string
	token string
	http  *http.Client
}

// NewClient returns a client for the daemon at addr (host:port).
func NewClient(addr, token string) *Client {
	if addr == "" {
		addr = common.DefaultListenAddr
	}
	return &Client{
		host:  addr,
		token: token,
		http:  &http.Client{},
	}
}

// Status fetches the full daemon snapshot.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &resp)
	return resp, err
}

// Connect asks the daemon to establish the tunnel and blocks until the
// attempt resolves.
func (c *Client) Connect(ctx context.Context, req ConnectRequest) (StateView, error) {
	var state StateView
	err := c.do(ctx, http.MethodPost, "/v1/connect", req, &state)
	return state, err
}

// Disconnect asks the daemon to tear the tunnel down gracefully.
func (c *Client) Disconnect(ctx context.Context) (StateView, error) {
	var state StateView
	err := c.do(ctx, http.MethodPost, "/v1/disconnect", nil, &state)
	return state, err
}

// ForceDisconnect asks the daemon to drop the tunnel immediately.
func (c *Client) ForceDisconnect(ctx context.Context) (StateView, error) {
	var state StateView
	err := c.do(ctx, http.MethodPost, "/v1/force-disconnect", nil, &state)
	return state, err
}

// Permission asks the daemon whether the tunnel may be established,
// without prompting.
func (c *Client) Permission(ctx context.Context) (PermissionResponse, error) {
	var resp PermissionResponse
	err := c.do(ctx, http.MethodGet, "/v1/permission", nil, &resp)
	return resp, err
}

// History fetches recent connection attempts, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Attempt, error) {
	path := "/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Attempts, nil
}

// Watch streams phase events to fn until ctx ends or the daemon goes
// away. The first frame is a snapshot of the current state.
func (c *Client) Watch(ctx context.Context, fn func(EventMessage)) error {
	u := url.URL{Scheme: "ws", Host: c.host, Path: "/v1/events"}
	if c.token != "" {
		u.RawQuery = url.Values{"token": {c.token}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return common.ErrUnauthorized
		}
		return c.translateDialError(err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg EventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		fn(msg)
	}
}

// do sends one request and decodes the response into out. Error
// payloads come back carrying the matching sentinel, so callers can
// use errors.Is across the API boundary.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return common.WrapError(err, "encode request")
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.host+path, reader)
	if err != nil {
		return common.WrapError(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.translateDialError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr != nil || apiErr.Error == "" {
			return fmt.Errorf("request failed: %s", resp.Status)
		}
		return &remoteError{msg: apiErr.Error, sentinel: codeToError(apiErr.Code)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return common.WrapError(err, "decode response")
	}
	return nil
}

// translateDialError turns a failed dial into ErrNotRunning so callers
// can tell "daemon is down" from other failures.
func (c *Client) translateDialError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w at %s: %v", common.ErrNotRunning, c.host, err)
	}
	return err
}

// remoteError carries the daemon's message while unwrapping to the
// matching sentinel.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }
