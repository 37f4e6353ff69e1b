// Package websockets carries packets as binary WebSocket messages. It is the
// fallback for clients without WebTransport; delivery is reliable and
// ordered, which replication tolerates but does not need.
package websockets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/replix/pkg/transport"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

var closeCodeMap = map[transport.CloseCode]int{
	transport.CloseNormal:        websocket.CloseNormalClosure,
	transport.CloseGoingAway:     websocket.CloseGoingAway,
	transport.CloseProtocolError: websocket.CloseProtocolError,
}

// Handler upgrades HTTP requests and hands each new Peer to OnPeer.
type Handler struct {
	ctx      context.Context
	upgrader websocket.Upgrader
	onPeer   func(*Peer)
	opts     []transport.Option
}

// NewHandler returns a Handler whose peers live until ctx is done.
func NewHandler(ctx context.Context, onPeer func(*Peer), opts ...transport.Option) *Handler {
	return &Handler{
		ctx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
		},
		onPeer: onPeer,
		opts:   opts,
	}
}

// SetCheckOrigin overrides the upgrader's same origin check.
func (h *Handler) SetCheckOrigin(check func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = check
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.onPeer(NewPeer(h.ctx, conn, h.opts...))
}

type Peer struct {
	conn  *websocket.Conn
	inbox *transport.Inbox
	done  chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

func NewPeer(ctx context.Context, conn *websocket.Conn, opts ...transport.Option) *Peer {
	o := transport.BuildOptions(opts...)
	p := &Peer{
		conn:  conn,
		inbox: transport.NewInbox(o.InboxSize),
		done:  make(chan struct{}),
	}
	go p.readPump()
	go func() {
		select {
		case <-ctx.Done():
			p.CloseWith(transport.CloseGoingAway, "shutting down")
		case <-p.done:
		}
	}()
	return p
}

func (p *Peer) readPump() {
	defer close(p.done)
	defer p.inbox.Close()

	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		p.inbox.Push(data)
	}
}

func (p *Peer) Send(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (p *Peer) Recv() ([]byte, bool) {
	return p.inbox.Pop()
}

func (p *Peer) Dropped() uint64 {
	return p.inbox.Dropped()
}

func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Peer) Close() error {
	return p.CloseWith(transport.CloseNormal, "")
}

func (p *Peer) CloseWith(code transport.CloseCode, reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	wsCode, ok := closeCodeMap[code]
	if !ok {
		wsCode = websocket.CloseNormalClosure
	}

	var lastErr error

	p.writeMu.Lock()
	err := p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(wsCode, reason),
		time.Now().Add(time.Second),
	)
	p.writeMu.Unlock()
	if err != nil {
		lastErr = err
	}

	if err := p.conn.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

var _ transport.Peer = (*Peer)(nil)
