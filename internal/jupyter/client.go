// Package jupyter mirrors the event stream of a Jupyter server into the
// local event manager.
package jupyter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/config"
	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
)

const subscribePath = "/api/events/subscribe"

// Publisher accepts emissions read from the server.
type Publisher interface {
	Publish(ctx context.Context, ev sdk.Event) error
}

type Client struct {
	log *zap.Logger
	pub Publisher

	mu   sync.Mutex
	cfg  config.Upstream
	conn *websocket.Conn
}

func NewClient(cfg config.Upstream, log *zap.Logger, pub Publisher) *Client {
	return &Client{cfg: cfg, log: log, pub: pub}
}

// Endpoint turns a server base URL into its event subscription websocket URL.
func Endpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("jupyter: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + subscribePath
	return u.String(), nil
}

// Run reads the event stream until ctx is done, reconnecting after
// failures.
func (c *Client) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	for ctx.Err() == nil {
		cfg := c.config()
		if err := c.stream(ctx, cfg); err != nil && ctx.Err() == nil {
			c.log.Warn("jupyter event stream", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(cfg.ReconnectDelay):
		}
	}
}

func (c *Client) stream(ctx context.Context, cfg config.Upstream) error {
	endpoint, err := Endpoint(cfg.URL)
	if err != nil {
		return err
	}
	header := http.Header{"User-Agent": {"labcmd-gateway"}}
	if cfg.Token != "" {
		header.Set("Authorization", "token "+cfg.Token)
	}
	d := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.Insecure},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := d.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c.setConn(conn)
	defer c.Close()
	if ctx.Err() != nil {
		return nil
	}
	c.log.Info("jupyter event stream connected", zap.String("endpoint", endpoint))

	for {
		var ev sdk.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := c.pub.Publish(ctx, ev); err != nil {
			c.log.Warn("dropping upstream event",
				zap.String("schema_id", ev.SchemaID()),
				zap.Error(err))
		}
	}
}

func (c *Client) config() config.Upstream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Reload applies cfg from the next connection on.
func (c *Client) Reload(cfg config.Upstream) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Close drops the current connection; Run reconnects unless its context is
// done.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
