package stream

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polyarb/internal/config"
	"polyarb/internal/domain"
)

// ConnState is the lifecycle state of one websocket connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSubscribed
	StateStalled
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStalled:
		return "stalled"
	}
	return "unknown"
}

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// subscribeCommand is the market-channel subscription payload.
type subscribeCommand struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// conn owns one websocket connection carrying a fixed batch of token
// subscriptions. A single goroutine runs the dial/subscribe/read cycle, so
// per-token updates are applied in arrival order.
type conn struct {
	id      int
	url     string
	tokens  []string
	cfg     config.StreamConfig
	onFrame func(raw []byte)
	onState func(id int, s ConnState)

	state atomic.Int32
}

func newConn(id int, url string, tokens []string, cfg config.StreamConfig, onFrame func([]byte), onState func(int, ConnState)) *conn {
	return &conn{
		id:      id,
		url:     url,
		tokens:  tokens,
		cfg:     cfg,
		onFrame: onFrame,
		onState: onState,
	}
}

func (c *conn) setState(s ConnState) {
	if ConnState(c.state.Swap(int32(s))) != s && c.onState != nil {
		c.onState(c.id, s)
	}
}

// run cycles the connection until ctx is canceled: dial, subscribe, read
// until failure, back off, repeat. The backoff resets after each successful
// subscribe.
func (c *conn) run(ctx context.Context) error {
	backoff := time.Duration(c.cfg.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(c.cfg.MaxBackoffMs) * time.Millisecond

	for {
		c.setState(StateConnecting)
		subscribed, err := c.session(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// session only returns nil on context cancellation
			return nil
		}

		// A session that reached Subscribed starts the next cycle fresh.
		if subscribed {
			backoff = time.Duration(c.cfg.InitialBackoffMs) * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff, c.cfg.BackoffJitter)):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one full connection lifetime: dial, subscribe, pump messages.
// subscribed reports whether the subscription went through before failure.
func (c *conn) session(ctx context.Context) (subscribed bool, _ error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("stream: dial: %w", err)
	}
	defer ws.Close()

	pongWait := time.Duration(c.cfg.PongTimeoutSec) * time.Second
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(subscribeCommand{AssetIDs: c.tokens, Type: "market"}); err != nil {
		return false, fmt.Errorf("stream: subscribe: %w", err)
	}
	c.setState(StateSubscribed)

	// Close the socket when ctx ends so the blocked read returns. Control
	// frames go through WriteControl, which may run concurrently with the
	// ping writer below.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			ws.Close()
		case <-stop:
		}
	}()

	pingPeriod := pongWait * 9 / 10
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if isTimeout(err) {
				c.setState(StateStalled)
				return true, fmt.Errorf("stream: stalled, no data within pong window: %w", domain.ErrWSDisconnect)
			}
			return true, fmt.Errorf("stream: read: %w", err)
		}
		c.onFrame(raw)
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}

// jitter spreads a delay by ±fraction so parallel connections do not
// reconnect in lockstep.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
