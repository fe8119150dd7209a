package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbrandal/backscroll/internal/chat"
	"github.com/tbrandal/backscroll/internal/events"
	"github.com/tbrandal/backscroll/internal/logging"
	"github.com/tbrandal/backscroll/internal/timeline"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 15 * time.Second

	// Ping cadence. Must be less than pongWait.
	pingPeriod = 10 * time.Second

	maxFrameSize = 1 << 20

	defaultDialTimeout       = 5 * time.Second
	defaultReconnectInterval = 2 * time.Second
)

// Gateway errors.
var (
	ErrGatewayClosed = errors.New("gateway closed")
)

// GatewayConfig configures the websocket client.
type GatewayConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// DialTimeout bounds the initial connect.
	DialTimeout time.Duration
	// ReconnectInterval is the redial cadence after a dropped connection.
	ReconnectInterval time.Duration
}

// Gateway is a timeline.Source speaking the chat gateway's websocket
// protocol: request/response envelopes for history windows and a push feed
// for live events, multiplexed on one connection.
type Gateway struct {
	cfg GatewayConfig
	log zerolog.Logger
	bus *events.Bus

	mu         sync.Mutex
	conn       *websocket.Conn
	pending    map[string]chan gatewayEnvelope
	subscribed map[string]struct{}
	closed     bool
}

var _ timeline.Source = (*Gateway)(nil)

type gatewayRequest struct {
	Op        string    `json:"op"`
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Cursor    string    `json:"cursor,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Before    int       `json:"before,omitempty"`
	After     int       `json:"after,omitempty"`
	Since     time.Time `json:"since,omitzero"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Code)
}

type gatewayPage struct {
	Messages      []chat.Message `json:"messages"`
	ReachedOldest bool           `json:"reached_oldest,omitempty"`
	ReachedNewest bool           `json:"reached_newest,omitempty"`
}

type gatewayEnvelope struct {
	ID    string        `json:"id,omitempty"`
	OK    *bool         `json:"ok,omitempty"`
	Error *gatewayError `json:"error,omitempty"`
	Page  *gatewayPage  `json:"page,omitempty"`
	Event *events.Event `json:"event,omitempty"`
}

// DialGateway connects and starts the read and ping loops.
func DialGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	g := &Gateway{
		cfg:        cfg,
		log:        logging.Component("source.gateway"),
		bus:        events.NewBus(),
		pending:    make(map[string]chan gatewayEnvelope),
		subscribed: make(map[string]struct{}),
	}
	if err := g.connect(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, g.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", g.cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	g.mu.Lock()
	g.conn = conn
	resub := make([]string, 0, len(g.subscribed))
	for channelID := range g.subscribed {
		resub = append(resub, channelID)
	}
	g.mu.Unlock()

	go g.readLoop(conn)
	go g.pingLoop(conn)
	for _, channelID := range resub {
		g.sendSubscribe(channelID)
	}
	return nil
}

// Close tears the connection down and fails all pending calls.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	conn := g.conn
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// FetchBefore implements timeline.Source.
func (g *Gateway) FetchBefore(ctx context.Context, channelID, cursorID string, limit int) (timeline.Page, error) {
	return g.fetchPage(ctx, gatewayRequest{
		Op: "before", ChannelID: channelID, Cursor: cursorID, Limit: limit,
	})
}

// FetchAfter implements timeline.Source.
func (g *Gateway) FetchAfter(ctx context.Context, channelID, cursorID string, limit int) (timeline.Page, error) {
	return g.fetchPage(ctx, gatewayRequest{
		Op: "after", ChannelID: channelID, Cursor: cursorID, Limit: limit,
	})
}

// FetchAround implements timeline.Source.
func (g *Gateway) FetchAround(ctx context.Context, channelID, cursorID string, before, after int) (timeline.Page, error) {
	return g.fetchPage(ctx, gatewayRequest{
		Op: "around", ChannelID: channelID, Cursor: cursorID, Before: before, After: after,
	})
}

// FetchSince implements timeline.Source.
func (g *Gateway) FetchSince(ctx context.Context, channelID string, since time.Time) ([]chat.Message, error) {
	page, err := g.fetchPage(ctx, gatewayRequest{
		Op: "since", ChannelID: channelID, Since: since,
	})
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// Subscribe implements timeline.Source. The gateway pushes events for every
// subscribed channel over the shared connection; fan-out happens locally.
func (g *Gateway) Subscribe(channelID string) (<-chan events.Event, func()) {
	g.mu.Lock()
	_, already := g.subscribed[channelID]
	g.subscribed[channelID] = struct{}{}
	g.mu.Unlock()

	if !already {
		g.sendSubscribe(channelID)
	}
	return g.bus.Subscribe(channelID, 0)
}

func (g *Gateway) fetchPage(ctx context.Context, req gatewayRequest) (timeline.Page, error) {
	env, err := g.roundTrip(ctx, req)
	if err != nil {
		return timeline.Page{}, err
	}
	if env.Page == nil {
		return timeline.Page{}, fmt.Errorf("gateway: response without page")
	}
	return timeline.Page{
		Messages:      env.Page.Messages,
		ReachedOldest: env.Page.ReachedOldest,
		ReachedNewest: env.Page.ReachedNewest,
	}, nil
}

func (g *Gateway) roundTrip(ctx context.Context, req gatewayRequest) (gatewayEnvelope, error) {
	req.ID = uuid.New().String()
	reply := make(chan gatewayEnvelope, 1)

	g.mu.Lock()
	if g.closed || g.conn == nil {
		g.mu.Unlock()
		return gatewayEnvelope{}, ErrGatewayClosed
	}
	g.pending[req.ID] = reply
	conn := g.conn
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(req)
	g.mu.Unlock()

	if err != nil {
		g.dropPending(req.ID)
		return gatewayEnvelope{}, fmt.Errorf("gateway write: %w", err)
	}

	select {
	case <-ctx.Done():
		g.dropPending(req.ID)
		return gatewayEnvelope{}, ctx.Err()
	case env, ok := <-reply:
		if !ok {
			return gatewayEnvelope{}, ErrGatewayClosed
		}
		if env.Error != nil {
			return gatewayEnvelope{}, env.Error
		}
		return env, nil
	}
}

func (g *Gateway) dropPending(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

func (g *Gateway) sendSubscribe(channelID string) {
	g.mu.Lock()
	conn := g.conn
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(gatewayRequest{Op: "subscribe", ChannelID: channelID}); err != nil {
			g.log.Warn().Err(err).Str("channel_id", channelID).Msg("subscribe write failed")
		}
	}
	g.mu.Unlock()
}

func (g *Gateway) readLoop(conn *websocket.Conn) {
	for {
		var env gatewayEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			g.handleDisconnect(conn, err)
			return
		}

		if env.ID != "" {
			g.mu.Lock()
			reply, ok := g.pending[env.ID]
			if ok {
				delete(g.pending, env.ID)
			}
			g.mu.Unlock()
			if ok {
				reply <- env
			}
			continue
		}
		if env.Event != nil {
			g.bus.Publish(*env.Event)
		}
	}
}

func (g *Gateway) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		g.mu.Lock()
		stale := g.closed || g.conn != conn
		g.mu.Unlock()
		if stale {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// handleDisconnect fails in-flight calls and redials in the background.
// Callers are expected to run a SyncSince reconciliation once fetches start
// succeeding again.
func (g *Gateway) handleDisconnect(conn *websocket.Conn, cause error) {
	_ = conn.Close()

	g.mu.Lock()
	if g.closed || g.conn != conn {
		g.mu.Unlock()
		return
	}
	g.conn = nil
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	g.mu.Unlock()

	g.log.Warn().Err(cause).Msg("gateway connection lost, reconnecting")
	go func() {
		for {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if closed {
				return
			}
			if err := g.connect(context.Background()); err == nil {
				g.log.Info().Msg("gateway reconnected")
				return
			}
			time.Sleep(g.cfg.ReconnectInterval)
		}
	}()
}
