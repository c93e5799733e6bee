package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/ports"
	"skillhub/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	EventBuffer    int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 20 * time.Second,
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
		EventBuffer:    64,
	}
}

// Dialer opens relay connections. It implements ports.EventDialer.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *zap.SugaredLogger
}

func NewDialer(cfg Config, logger *zap.SugaredLogger) *Dialer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}
}

// RelayURL maps the server address onto its websocket endpoint.
func RelayURL(serverAddress string, userID domain.UserID) (string, error) {
	u, err := url.Parse(serverAddress)
	if err != nil {
		return "", fmt.Errorf("invalid relay address: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay address %q has no host", serverAddress)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("userId", string(userID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Dialer) Dial(ctx context.Context, serverAddress string, userID domain.UserID) (ports.EventChannel, error) {
	target, err := RelayURL(serverAddress, userID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.ws.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay %s: %w", target, err)
	}

	client := newRelayClient(conn, d.cfg, d.logger)
	client.start()
	client.logger.Infow("relay connected", "url", target, "user_id", userID)
	return client, nil
}

// RelayClient is one websocket connection to the relay. Writes are
// serialized; reads are delivered on Events until the connection ends.
type RelayClient struct {
	id     string
	conn   *websocket.Conn
	cfg    Config
	logger *zap.SugaredLogger

	writeMu   sync.Mutex
	events    chan domain.Event
	closed    chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

func newRelayClient(conn *websocket.Conn, cfg Config, logger *zap.SugaredLogger) *RelayClient {
	id := utils.GenerateConnectionID()
	c := &RelayClient{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("conn_id", id),
		events: make(chan domain.Event, cfg.EventBuffer),
		closed: make(chan struct{}),
	}
	c.connected.Store(true)
	return c
}

func (c *RelayClient) start() {
	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	go c.readLoop()
	go c.pingLoop()
}

func (c *RelayClient) ID() string {
	return c.id
}

func (c *RelayClient) Events() <-chan domain.Event {
	return c.events
}

func (c *RelayClient) Connected() bool {
	return c.connected.Load()
}

func (c *RelayClient) Emit(ctx context.Context, name string, payload interface{}) error {
	if !c.Connected() {
		return domain.ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ev, err := domain.NewEvent(name, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		c.logger.Warnw("error writing event", "event", name, "error", err)
		return fmt.Errorf("write %s: %w", name, err)
	}
	c.logger.Debugw("event sent", "event", name)
	return nil
}

// Close sends a close frame and releases the connection. It is safe to call
// more than once.
func (c *RelayClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.closed)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		err = c.conn.Close()
		c.logger.Infow("relay connection closed")
	})
	return err
}

func (c *RelayClient) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.events)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("relay read failed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			c.logger.Warnw("dropping malformed event", "size", len(data), "error", err)
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

func (c *RelayClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Infow("error sending ping", "error", err)
				return
			}
		}
	}
}
