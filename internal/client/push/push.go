// Package push maintains the long-lived websocket that delivers submission events.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"practiceoj/internal/workspace/outcome"
	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	EventUpdate = "submission-update"
	EventResult = "submission-result"
)

// Frame is one message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a decoded submission event.
type Event struct {
	Name    string
	Payload outcome.Payload
}

// Config controls the websocket connection.
type Config struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	PingInterval     time.Duration `yaml:"pingInterval"`
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Client multiplexes events for every identity over one connection.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	done    chan struct{}
}

func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
	}
}

// Subscribe opens the connection with the given credential. onEvent is called from the read
// goroutine for every submission event; onClose is called once when the connection ends,
// with nil after Close and a PushDisconnected error otherwise.
func (c *Client) Subscribe(ctx context.Context, credential string, onEvent func(Event), onClose func(error)) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return appErr.New(appErr.PushConnectFailed).WithMessage("push channel already subscribed")
	}
	c.mu.Unlock()

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		e := appErr.Wrapf(err, appErr.PushConnectFailed, "connect push channel failed")
		if resp != nil {
			e.WithDetail("status", resp.StatusCode)
			if resp.StatusCode == http.StatusUnauthorized {
				e.Code = appErr.Unauthorized
			}
		}
		return e
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.done = done
	c.mu.Unlock()

	logger.Info(ctx, "push channel connected", zap.String("url", c.cfg.URL))
	go c.keepAlive(conn, done)
	go c.readLoop(conn, done, onEvent, onClose)
	return nil
}

// Close unsubscribes and waits for the read goroutine to finish.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}, onEvent func(Event), onClose func(error)) {
	ctx := context.Background()
	var cause error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		ev, ok := decodeFrame(ctx, data)
		if ok && onEvent != nil {
			onEvent(ev)
		}
	}

	c.mu.Lock()
	intentional := c.closing
	c.conn = nil
	c.done = nil
	c.mu.Unlock()
	close(done)

	var reported error
	if !intentional {
		reported = appErr.Wrapf(cause, appErr.PushDisconnected, "push channel disconnected")
		logger.Warn(ctx, "push channel disconnected", zap.Error(cause))
	}
	if onClose != nil {
		onClose(reported)
	}
}

func (c *Client) keepAlive(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Debug(context.Background(), "push ping failed", zap.Error(err))
				return
			}
		}
	}
}

// decodeFrame drops frames that are not submission events or carry no object payload.
func decodeFrame(ctx context.Context, data []byte) (Event, bool) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Warn(ctx, "drop malformed push frame", zap.Error(err))
		return Event{}, false
	}
	if f.Event != EventUpdate && f.Event != EventResult {
		logger.Debug(ctx, "ignore push event", zap.String("event", f.Event))
		return Event{}, false
	}
	p, err := outcome.ParsePayload(f.Data)
	if err != nil {
		logger.Warn(ctx, "drop push event with malformed payload", zap.String("event", f.Event), zap.Error(err))
		return Event{}, false
	}
	return Event{Name: f.Event, Payload: p}, true
}
