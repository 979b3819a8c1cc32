package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erimias46/babrber-frontend-sub000/internal/realtime"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Consumer keeps a WebSocket open to the API and feeds events into a Cache.
// Every (re)connect refetches authoritative state before the stream is trusted.
type Consumer struct {
	wsURL      string
	token      string
	cache      *Cache
	dialer     *websocket.Dialer
	logger     *logging.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	connected  func()
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithBackoff bounds the reconnect delay.
func WithBackoff(lo, hi time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.minBackoff = lo
		c.maxBackoff = hi
	}
}

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d *websocket.Dialer) ConsumerOption {
	return func(c *Consumer) { c.dialer = d }
}

// OnConnected is called after each successful connect and resync.
func OnConnected(fn func()) ConsumerOption {
	return func(c *Consumer) { c.connected = fn }
}

func NewConsumer(wsURL, token string, cache *Cache, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Consumer{
		wsURL:      wsURL,
		token:      token,
		cache:      cache,
		dialer:     websocket.DefaultDialer,
		logger:     logger.Component("syncclient"),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		err := c.session(ctx, func() { backoff = c.minBackoff })
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("realtime connection lost, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session runs one connection: dial, resync, then read until failure.
func (c *Consumer) session(ctx context.Context, onReady func()) error {
	target, err := c.url()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("syncclient: unauthorized: %w", err)
		}
		return fmt.Errorf("syncclient: dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.cache.Reset(ctx); err != nil {
		return err
	}
	onReady()
	if c.connected != nil {
		c.connected()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("syncclient: read: %w", err)
		}
		var evt realtime.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn("discarding malformed event", "error", err)
			continue
		}
		c.cache.Apply(evt)
	}
}

func (c *Consumer) url() (string, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", fmt.Errorf("syncclient: parse url: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
