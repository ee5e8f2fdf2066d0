package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"clocktrack/internal/tracker"
)

const dialTimeout = 10 * time.Second

// WebSocketProvider reads location reports from a websocket feed, one
// JSON Report per text message. When the connection drops every live
// stream ends; the next Subscribe redials.
type WebSocketProvider struct {
	url    string
	logger tracker.Logger
	hub    *hub

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewWebSocketProvider(url string, logger tracker.Logger) (*WebSocketProvider, error) {
	if url == "" {
		return nil, fmt.Errorf("websocket location requires websocket_url to be set")
	}
	return &WebSocketProvider{url: url, logger: logger, hub: newHub()}, nil
}

func (p *WebSocketProvider) dial(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dialing location feed: %w", err)
	}

	readCtx, stop := context.WithCancel(context.Background())
	p.conn = conn
	p.cancel = stop
	go p.readLoop(readCtx, conn)
	return nil
}

func (p *WebSocketProvider) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
			p.cancel = nil
		}
		p.mu.Unlock()
		p.hub.closeAll()
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("location feed closed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		f, ok, err := DecodeReport(data)
		if err != nil {
			p.logger.Warn("dropping malformed location report", "error", err)
			continue
		}
		if !ok {
			continue
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now().UTC()
		}
		p.hub.publish(f)
	}
}

// Subscribe dials if needed and attaches a new stream.
func (p *WebSocketProvider) Subscribe(ctx context.Context, settings tracker.SubscriptionSettings) (tracker.Subscription, error) {
	if err := p.dial(ctx); err != nil {
		return nil, err
	}
	return p.hub.subscribe(nil), nil
}

// CurrentPosition waits for the next report.
func (p *WebSocketProvider) CurrentPosition(ctx context.Context) (*tracker.Fix, error) {
	if err := p.dial(ctx); err != nil {
		return nil, err
	}
	return p.hub.next(ctx)
}

// LastKnownPosition returns the most recent report without waiting.
func (p *WebSocketProvider) LastKnownPosition(ctx context.Context) (*tracker.Fix, error) {
	return p.hub.lastKnown(), nil
}

// Close hangs up the feed.
func (p *WebSocketProvider) Close() error {
	p.mu.Lock()
	conn, cancel := p.conn, p.cancel
	p.conn, p.cancel = nil, nil
	p.mu.Unlock()
	if conn != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
	}
	p.hub.closeAll()
	return nil
}

var _ tracker.LocationProvider = (*WebSocketProvider)(nil)
