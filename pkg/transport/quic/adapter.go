// Package quic carries packets as QUIC datagrams.
//
// QUIC datagrams must fit in a single UDP payload, so streams sent through
// this adapter need an MTU of at most about 1200 bytes.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/QYUbit/replix/pkg/transport"
	"github.com/quic-go/quic-go"
)

var ErrDatagramsDisabled = errors.New("quic: peer did not negotiate datagram support")

var closeCodeMap = map[transport.CloseCode]quic.ApplicationErrorCode{
	transport.CloseNormal:        0x0,
	transport.CloseGoingAway:     0x1,
	transport.CloseProtocolError: 0x2,
}

func withDatagrams(cfg *quic.Config) *quic.Config {
	if cfg == nil {
		cfg = &quic.Config{}
	} else {
		cfg = cfg.Clone()
	}
	cfg.EnableDatagrams = true
	return cfg
}

type Listener struct {
	listener *quic.Listener
	opts     []transport.Option
}

// Listen opens a QUIC listener with datagrams enabled.
func Listen(addr string, tlsCfg *tls.Config, quicCfg *quic.Config, opts ...transport.Option) (*Listener, error) {
	l, err := quic.ListenAddr(addr, tlsCfg, withDatagrams(quicCfg))
	if err != nil {
		return nil, err
	}
	return &Listener{listener: l, opts: opts}, nil
}

// Accept waits for the next connection. The peer's read pump runs until ctx
// is done or the connection closes.
func (l *Listener) Accept(ctx context.Context) (*Peer, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewPeer(ctx, conn, l.opts...)
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Dial connects to a QUIC listener with datagrams enabled.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config, quicCfg *quic.Config, opts ...transport.Option) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, withDatagrams(quicCfg))
	if err != nil {
		return nil, err
	}
	return NewPeer(ctx, conn, opts...)
}

type Peer struct {
	conn   *quic.Conn
	inbox  *transport.Inbox
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewPeer wraps an established connection and starts pumping its datagrams.
func NewPeer(ctx context.Context, conn *quic.Conn, opts ...transport.Option) (*Peer, error) {
	if !conn.ConnectionState().SupportsDatagrams {
		conn.CloseWithError(closeCodeMap[transport.CloseProtocolError], "datagrams required")
		return nil, ErrDatagramsDisabled
	}

	o := transport.BuildOptions(opts...)
	ctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		conn:   conn,
		inbox:  transport.NewInbox(o.InboxSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.datagramPump(ctx)
	return p, nil
}

func (p *Peer) datagramPump(ctx context.Context) {
	defer close(p.done)
	defer p.inbox.Close()

	for {
		message, err := p.conn.ReceiveDatagram(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.setErr(err)
			}
			return
		}
		p.inbox.Push(message)
	}
}

func (p *Peer) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Peer) Send(b []byte) error {
	return p.conn.SendDatagram(b)
}

func (p *Peer) Recv() ([]byte, bool) {
	return p.inbox.Pop()
}

// Dropped returns the number of datagrams discarded because the inbox was
// full.
func (p *Peer) Dropped() uint64 {
	return p.inbox.Dropped()
}

// Done is closed once the read pump has stopped.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that stopped the read pump, if any.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Peer) Close() error {
	return p.CloseWith(transport.CloseNormal, "")
}

func (p *Peer) CloseWith(code transport.CloseCode, reason string) error {
	p.cancel()
	appCode, ok := closeCodeMap[code]
	if !ok {
		appCode = 0x0
	}
	return p.conn.CloseWithError(appCode, reason)
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

var _ transport.Peer = (*Peer)(nil)
