// Package stream provides the WebSocket trade ingestor: it keeps one
// subscription to the exchange trade feed alive forever and pushes decoded
// trade events into a bounded channel.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"coinwatch/internal/model"
)

// State is the ingestor's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	}
	return "unknown"
}

// Config holds configuration for the trade ingestor.
type Config struct {
	// URL of the exchange trade WebSocket, e.g. "wss://api.upbit.com/websocket/v1".
	URL string

	// Markets to subscribe to in the single subscription frame.
	Markets []string

	// Ticket identifies this subscription to the exchange. Defaults to
	// "coinwatch" if empty.
	Ticket string

	// ReconnectDelay is the fixed pause between reconnection attempts.
	// Defaults to 5 seconds if zero. The ingestor retries forever.
	ReconnectDelay time.Duration

	// ReadTimeout is the per-message read deadline. Defaults to 60s.
	ReadTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Ticket == "" {
		c.Ticket = "coinwatch"
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
}

// Ingest connects to the exchange trade feed, sends exactly one subscription
// frame per connection, and streams model.TradeEvent values into the output
// channel. Undecodable frames are skipped; a full output channel drops the
// incoming event rather than blocking the read loop.
type Ingest struct {
	cfg   Config
	state int32 // atomic State

	// Optional hooks.
	OnReconnect   func()
	OnDrop        func(model.TradeEvent)
	OnStateChange func(State)
}

// New creates an Ingest. Returns an error if the URL is unparseable or no
// markets were given.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("stream: bad url %q: %w", cfg.URL, err)
	}
	if len(cfg.Markets) == 0 {
		return nil, fmt.Errorf("stream: no markets to subscribe")
	}
	return &Ingest{cfg: cfg}, nil
}

// State returns the current lifecycle state.
func (ing *Ingest) State() State {
	return State(atomic.LoadInt32(&ing.state))
}

func (ing *Ingest) setState(s State) {
	atomic.StoreInt32(&ing.state, int32(s))
	if ing.OnStateChange != nil {
		ing.OnStateChange(s)
	}
}

// subscriptionFrame builds the one frame sent after each connect:
// a ticket section, a trade section listing the markets, and a format hint.
func (ing *Ingest) subscriptionFrame() []byte {
	frame := []any{
		map[string]any{"ticket": ing.cfg.Ticket},
		map[string]any{"type": "trade", "codes": ing.cfg.Markets, "isOnlyRealtime": true},
		map[string]any{"format": "SIMPLE"},
	}
	b, _ := json.Marshal(frame)
	return b
}

// Start runs the connect/subscribe/stream loop until ctx is cancelled.
// Every failure, at any stage, drops back to disconnected and retries after
// the fixed delay. Never returns an error from a feed failure.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.TradeEvent) error {
	for {
		select {
		case <-ctx.Done():
			ing.setState(StateDisconnected)
			return nil
		default:
		}

		err := ing.runOnce(ctx, out)
		ing.setState(StateDisconnected)
		if err == nil {
			// Context cancelled cleanly.
			return nil
		}

		log.Printf("[stream] disconnected (%v), reconnecting in %s", err, ing.cfg.ReconnectDelay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ing.cfg.ReconnectDelay):
		}
	}
}

// runOnce makes a single connection attempt: dial, send the subscription
// frame, then read until disconnect or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, out chan<- model.TradeEvent) error {
	ing.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, ing.subscriptionFrame()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	ing.setState(StateSubscribed)
	log.Printf("[stream] subscribed to %d markets at %s", len(ing.cfg.Markets), ing.cfg.URL)

	// Async context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(ing.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}

		var ev model.TradeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[stream] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if ev.Market == "" {
			log.Printf("[stream] skipping trade with empty market code")
			continue
		}
		if ing.State() != StateStreaming {
			ing.setState(StateStreaming)
		}

		select {
		case out <- ev:
		default:
			log.Printf("[stream] queue full, dropping trade for %s", ev.Market)
			if ing.OnDrop != nil {
				ing.OnDrop(ev)
			}
		}
	}
}
