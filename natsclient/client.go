package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/xkayo32/pytake-sub013/errors"
)

// Client errors.
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
)

// Options configures a Client.
type Options struct {
	URL           string
	Name          string
	Username      string
	Password      string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultOptions returns options suitable for a local NATS server.
func DefaultOptions() Options {
	return Options{
		URL:           nats.DefaultURL,
		Name:          "pytake",
		MaxReconnects: -1, // reconnect forever
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	opts   Options
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
}

// New creates a client without connecting. A nil logger falls back to
// slog.Default.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}
}

// Connect establishes the NATS connection and JetStream context.
func (c *Client) Connect() error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	natsOpts := []nats.Option{
		nats.Name(c.opts.Name),
		nats.MaxReconnects(c.opts.MaxReconnects),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.Timeout(c.opts.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	switch {
	case c.opts.Token != "":
		natsOpts = append(natsOpts, nats.Token(c.opts.Token))
	case c.opts.Username != "":
		natsOpts = append(natsOpts, nats.UserInfo(c.opts.Username, c.opts.Password))
	}

	conn, err := nats.Connect(c.opts.URL, natsOpts...)
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Connect", "dial")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "natsclient", "Connect", "create jetstream context")
	}

	c.conn = conn
	c.js = js
	c.logger.Info("nats connected", "url", conn.ConnectedUrl())
	return nil
}

// Conn returns the underlying connection, or nil before Connect.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish publishes data on a core NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natsclient", "Publish", fmt.Sprintf("publish %s", subject))
	}
	return nil
}

// CreateKeyValueBucket creates the bucket if it does not exist and returns
// a handle to it.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if c.js == nil {
		return nil, ErrNotConnected
	}
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "CreateKeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}
	return kv, nil
}

// Close drains the connection, waiting briefly for buffered messages.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.js = nil
}
