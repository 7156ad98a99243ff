package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nexrt/internal/plugin"
	"nexrt/internal/scheduler"
	"nexrt/pkg/types"
)

// ErrNotConnected is returned by Client calls made before Connect.
var ErrNotConnected = errors.New("httpapi: client not connected")

// Client talks to a Server. Connect verifies the server is up; the calls
// after it are plain HTTP requests.
type Client struct {
	base *url.URL
	http *http.Client

	connected atomic.Bool
	mu        sync.Mutex
	streams   map[*websocket.Conn]struct{}
}

// NewClient returns a client for addr ("host:port" or an http URL).
func NewClient(addr string, hc *http.Client) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("client address: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: hc, streams: make(map[*websocket.Conn]struct{})}, nil
}

// Connect probes /healthz on s. A nil scheduler probes inline.
func (c *Client) Connect(s *scheduler.Scheduler) *scheduler.Task[struct{}] {
	connect := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout+time.Second)
		defer cancel()
		resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		c.connected.Store(true)
		return nil
	}
	if s == nil {
		return scheduler.Resolved(struct{}{}, connect())
	}
	return s.Go(connect)
}

// Disconnect closes open event streams and marks the client disconnected.
func (c *Client) Disconnect(s *scheduler.Scheduler) *scheduler.Task[struct{}] {
	disconnect := func() error {
		c.connected.Store(false)
		c.mu.Lock()
		conns := c.streams
		c.streams = make(map[*websocket.Conn]struct{})
		c.mu.Unlock()
		for conn := range conns {
			_ = conn.Close()
		}
		c.http.CloseIdleConnections()
		return nil
	}
	if s == nil {
		return scheduler.Resolved(struct{}{}, disconnect())
	}
	return s.Go(disconnect)
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Stats fetches /v1/stats.
func (c *Client) Stats(ctx context.Context) (types.StatsResponse, error) {
	var out types.StatsResponse
	return out, c.getJSON(ctx, "/v1/stats", &out)
}

// Plugins fetches /v1/plugins.
func (c *Client) Plugins(ctx context.Context) (types.PluginsResponse, error) {
	var out types.PluginsResponse
	return out, c.getJSON(ctx, "/v1/plugins", &out)
}

// Platform fetches /v1/platform.
func (c *Client) Platform(ctx context.Context) (types.PlatformResponse, error) {
	var out types.PlatformResponse
	return out, c.getJSON(ctx, "/v1/platform", &out)
}

// Call invokes method on a plugin.
func (c *Client) Call(ctx context.Context, name, method string, args map[string]any) (any, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	body, err := json.Marshal(types.CallRequest{Method: method, Args: args})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/plugins/"+url.PathEscape(name)+"/call", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out types.CallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode call response: %w", err)
	}
	return out.Result, nil
}

// Subscribe opens the websocket event stream. The channel closes when ctx
// ends, the server goes away or Disconnect is called.
func (c *Client) Subscribe(ctx context.Context) (<-chan plugin.Event, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	c.mu.Lock()
	c.streams[conn] = struct{}{}
	c.mu.Unlock()

	out := make(chan plugin.Event, subscriberBuffer)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer func() {
			c.mu.Lock()
			delete(c.streams, conn)
			c.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			var e plugin.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var er types.ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er) != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: er.Error}
	}
	return resp, nil
}

// StatusError is a non-2xx admin API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string   { return fmt.Sprintf("%d: %s", e.Code, e.Message) }
func (e *StatusError) StatusCode() int { return e.Code }
