package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"voxspawn/internal/domain"
)

// announcement pairs a claimable session with its live handle.
type announcement struct {
	desc   domain.SessionDescriptor
	handle *wsHandle
}

// Client is the WebSocket connection to the conversation platform. It
// implements domain.SessionFeed: the platform announces sessions as
// session.created frames and the pool consumes them via Next.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex // wsjson.Write is not safe for concurrent use

	mu      sync.Mutex
	handles map[string]*wsHandle

	announce chan announcement
	done     chan struct{}
	closed   atomic.Bool
}

// Dial connects to the platform feed at wsURL. The API key, when set, is
// sent as a bearer token during the handshake.
func Dial(ctx context.Context, wsURL, apiKey string, dialTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if apiKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + apiKey}}
	}

	conn, _, err := websocket.Dial(dialCtx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("dial platform: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		handles:  make(map[string]*wsHandle),
		announce: make(chan announcement, 32),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Next blocks until the platform announces a claimable session, the
// context is canceled, or the feed closes.
func (c *Client) Next(ctx context.Context) (domain.SessionDescriptor, domain.SessionHandle, error) {
	select {
	case <-ctx.Done():
		return domain.SessionDescriptor{}, nil, ctx.Err()
	case a, ok := <-c.announce:
		if !ok {
			return domain.SessionDescriptor{}, nil, domain.ErrPoolStopped
		}
		return a.desc, a.handle, nil
	case <-c.done:
		return domain.SessionDescriptor{}, nil, domain.ErrPoolStopped
	}
}

// Close shuts down the feed and all outstanding handles.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	handles := make([]*wsHandle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.handles = make(map[string]*wsHandle)
	c.mu.Unlock()

	for _, h := range handles {
		h.finish(true)
	}
	return c.conn.Close(websocket.StatusNormalClosure, "shutting down")
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		var f Frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			if !c.closed.Load() {
				c.logger.Error("platform feed read failed", "error", err)
				c.Close()
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Type {
	case FrameSessionCreated:
		h := &wsHandle{
			client:  c,
			session: f.Session,
			updates: make(chan domain.SessionUpdate, 16),
		}
		h.occupancy.Store(int32(f.Occupancy))

		c.mu.Lock()
		if _, dup := c.handles[f.Session]; dup {
			c.mu.Unlock()
			c.logger.Warn("duplicate session announcement ignored", "session", f.Session)
			return
		}
		c.handles[f.Session] = h
		c.mu.Unlock()

		a := announcement{
			desc:   domain.SessionDescriptor{Name: f.Session, Metadata: f.Metadata},
			handle: h,
		}
		select {
		case c.announce <- a:
		case <-c.done:
		}

	case FrameSessionUpdated:
		if h := c.lookup(f.Session); h != nil {
			h.occupancy.Store(int32(f.Occupancy))
			h.push(domain.SessionUpdate{Occupancy: f.Occupancy})
		}

	case FrameSessionEnded:
		c.mu.Lock()
		h := c.handles[f.Session]
		delete(c.handles, f.Session)
		c.mu.Unlock()
		if h != nil {
			h.finish(true)
		}

	default:
		c.logger.Warn("unknown platform frame", "type", string(f.Type))
	}
}

func (c *Client) lookup(session string) *wsHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[session]
}

func (c *Client) send(ctx context.Context, f Frame) error {
	if c.closed.Load() {
		return domain.ErrSessionEnded
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, f)
}

func (c *Client) release(session string) {
	c.mu.Lock()
	delete(c.handles, session)
	c.mu.Unlock()
}

// wsHandle is the live connection to one announced session.
type wsHandle struct {
	client  *Client
	session string

	occupancy atomic.Int32
	updates   chan domain.SessionUpdate
	finished  sync.Once
}

func (h *wsHandle) Join(ctx context.Context, displayName string, voice domain.VoiceProfile) error {
	return h.client.send(ctx, Frame{
		Type:        FrameJoin,
		Session:     h.session,
		DisplayName: displayName,
		Voice:       string(voice),
	})
}

func (h *wsHandle) Say(ctx context.Context, text string) error {
	return h.client.send(ctx, Frame{
		Type:    FrameSay,
		Session: h.session,
		Text:    text,
	})
}

func (h *wsHandle) Occupancy() int {
	return int(h.occupancy.Load())
}

func (h *wsHandle) Updates() <-chan domain.SessionUpdate {
	return h.updates
}

func (h *wsHandle) Leave(ctx context.Context) error {
	err := h.client.send(ctx, Frame{Type: FrameLeave, Session: h.session})
	h.client.release(h.session)
	h.finish(false)
	if err != nil && h.client.closed.Load() {
		// Feed already gone; the session is over either way.
		return nil
	}
	return err
}

// push delivers an update without ever blocking the read loop.
func (h *wsHandle) push(u domain.SessionUpdate) {
	select {
	case h.updates <- u:
	default:
		h.client.logger.Warn("dropped session update for slow consumer", "session", h.session)
	}
}

// finish closes the updates channel exactly once. When ended is true a
// final end-of-session update is delivered first.
func (h *wsHandle) finish(ended bool) {
	h.finished.Do(func() {
		if ended {
			select {
			case h.updates <- domain.SessionUpdate{Occupancy: h.Occupancy(), Ended: true}:
			default:
			}
		}
		close(h.updates)
	})
}

// Compile-time interface checks.
var (
	_ domain.SessionFeed   = (*Client)(nil)
	_ domain.SessionHandle = (*wsHandle)(nil)
)
