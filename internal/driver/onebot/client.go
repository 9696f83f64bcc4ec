package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"grouplog/pkg/chatlog"
)

const (
	defaultCallTimeout      = 10 * time.Second
	defaultTriggerBuffer    = 256
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = time.Minute
	defaultHandshakeTimeout = 10 * time.Second
)

// ClientOption mutates one client configuration.
type ClientOption func(*Client)

// WithAccessToken sends token as a bearer Authorization header.
func WithAccessToken(token string) ClientOption {
	return func(client *Client) {
		client.accessToken = strings.TrimSpace(token)
	}
}

// WithCallTimeout bounds how long one action waits for its response.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout > 0 {
			client.callTimeout = timeout
		}
	}
}

// WithRateLimit throttles outgoing actions. A non-positive limit disables
// throttling.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(client *Client) {
		if limit <= 0 {
			client.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithTriggerBuffer sets the capacity of the group trigger channel.
func WithTriggerBuffer(size int) ClientOption {
	return func(client *Client) {
		if size > 0 {
			client.triggerBuffer = size
		}
	}
}

// WithReconnectBackoff sets the exponential reconnect interval bounds.
func WithReconnectBackoff(initial time.Duration, maxInterval time.Duration) ClientOption {
	return func(client *Client) {
		if initial > 0 {
			client.reconnectInitial = initial
		}
		if maxInterval > 0 {
			client.reconnectMax = maxInterval
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

type actionRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Echo   string         `json:"echo"`
}

type actionResponse struct {
	Status  string
	RetCode int64
	Message string
	Data    gjson.Result
	err     error
}

func (r actionResponse) ok() bool {
	return r.Status == "ok" || (r.Status == "" && r.RetCode == 0)
}

// Client is a OneBot v11 forward WebSocket client.
//
// One connection carries both pushed events and action calls. Run owns the
// connection lifecycle; Call is safe for concurrent use while Run is active.
type Client struct {
	url              string
	accessToken      string
	callTimeout      time.Duration
	limiter          *rate.Limiter
	triggerBuffer    int
	reconnectInitial time.Duration
	reconnectMax     time.Duration
	logger           *slog.Logger
	dialer           *websocket.Dialer

	triggers chan chatlog.GroupTrigger

	connMu sync.RWMutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan actionResponse
}

// NewClient creates one client for the WebSocket endpoint at url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("new onebot client: empty url")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("new onebot client: url %q must use ws:// or wss://", url)
	}

	client := &Client{
		url:              url,
		callTimeout:      defaultCallTimeout,
		triggerBuffer:    defaultTriggerBuffer,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
		logger:           slog.Default(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		pending: make(map[string]chan actionResponse),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.reconnectMax < client.reconnectInitial {
		client.reconnectMax = client.reconnectInitial
	}
	client.triggers = make(chan chatlog.GroupTrigger, client.triggerBuffer)

	return client, nil
}

// Triggers returns the group trigger stream. It is closed when Run returns.
func (c *Client) Triggers() <-chan chatlog.GroupTrigger {
	return c.triggers
}

// Run keeps one connection open until ctx is canceled, reconnecting with
// exponential backoff after failures.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.triggers)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.reconnectInitial
	policy.MaxInterval = c.reconnectMax
	policy.MaxElapsedTime = 0
	policy.Reset()

	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		c.logger.WarnContext(ctx, "onebot connection lost, reconnecting",
			"url", c.url,
			"wait", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session dials once and reads frames until the connection fails.
func (c *Client) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}

	conn, response, err := c.dialer.DialContext(ctx, c.url, header)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.logger.InfoContext(ctx, "onebot connected", "url", c.url)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer func() {
		stop()
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		_ = conn.Close()
		c.failPending(errDisconnected)
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read frame: %w", err)
		}
		c.route(ctx, payload)
	}
}

// route dispatches one inbound frame to a pending call or the trigger
// stream. Frames that are neither are ignored.
func (c *Client) route(ctx context.Context, payload []byte) {
	if !gjson.ValidBytes(payload) {
		c.logger.DebugContext(ctx, "onebot dropped invalid frame", "size", len(payload))
		return
	}
	frame := gjson.ParseBytes(payload)

	if echo := frame.Get("echo").String(); echo != "" {
		c.deliver(echo, actionResponse{
			Status:  frame.Get("status").String(),
			RetCode: frame.Get("retcode").Int(),
			Message: firstString(frame, "wording", "msg", "message"),
			Data:    frame.Get("data"),
		})
		return
	}

	if frame.Get("post_type").String() != "message" || frame.Get("message_type").String() != "group" {
		return
	}
	trigger := chatlog.GroupTrigger{
		GroupID:   frame.Get("group_id").String(),
		MessageID: frame.Get("message_id").String(),
		Time:      frame.Get("time").Int(),
	}
	if trigger.GroupID == "" {
		return
	}

	select {
	case c.triggers <- trigger:
	default:
		c.logger.WarnContext(ctx, "onebot trigger buffer full, dropping trigger",
			"group_id", trigger.GroupID,
			"message_id", trigger.MessageID,
		)
	}
}

func (c *Client) deliver(echo string, response actionResponse) {
	c.pendingMu.Lock()
	waiter, exists := c.pending[echo]
	if exists {
		delete(c.pending, echo)
	}
	c.pendingMu.Unlock()

	if exists {
		waiter <- response
	}
}

func (c *Client) failPending(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for echo, waiter := range c.pending {
		delete(c.pending, echo)
		waiter <- actionResponse{err: cause}
	}
}

// Call sends one action and waits for the matching response data.
//
// Connection failures and call timeouts are returned as transient
// LookupErrors; failed responses are mapped by mapResponseError.
func (c *Client) Call(ctx context.Context, action string, params map[string]any) (gjson.Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, fmt.Errorf("onebot %s rate limit: %w", action, err)
		}
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return gjson.Result{}, mapTransportError(action, errNotConnected)
	}

	echo := uuid.NewString()
	payload, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("onebot %s marshal: %w", action, err)
	}

	waiter := make(chan actionResponse, 1)
	c.pendingMu.Lock()
	c.pending[echo] = waiter
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.callTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return gjson.Result{}, mapTransportError(action, fmt.Errorf("write request: %w", err))
	}

	select {
	case response := <-waiter:
		if response.err != nil {
			return gjson.Result{}, mapTransportError(action, response.err)
		}
		if err := mapResponseError(action, response); err != nil {
			return gjson.Result{}, err
		}
		return response.Data, nil
	case <-timer.C:
		return gjson.Result{}, mapTransportError(action, errCallTimeout)
	case <-ctx.Done():
		return gjson.Result{}, fmt.Errorf("onebot %s: %w", action, ctx.Err())
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.conn != nil
}

func isNotFound(err error) bool {
	return errors.Is(err, chatlog.ErrNotFound)
}
