// Package webtransport carries packets as WebTransport datagrams so browser
// clients can receive replication over HTTP/3.
package webtransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/QYUbit/replix/pkg/transport"
	"github.com/quic-go/webtransport-go"
)

var closeCodeMap = map[transport.CloseCode]webtransport.SessionErrorCode{
	transport.CloseNormal:        0,
	transport.CloseGoingAway:     1,
	transport.CloseProtocolError: 2,
}

// Upgrade turns an HTTP/3 request into a Peer.
func Upgrade(ctx context.Context, server *webtransport.Server, w http.ResponseWriter, r *http.Request, opts ...transport.Option) (*Peer, error) {
	session, err := server.Upgrade(w, r)
	if err != nil {
		return nil, err
	}
	return NewPeer(ctx, session, opts...), nil
}

type Peer struct {
	session *webtransport.Session
	inbox   *transport.Inbox
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

func NewPeer(ctx context.Context, session *webtransport.Session, opts ...transport.Option) *Peer {
	o := transport.BuildOptions(opts...)
	ctx, cancel := context.WithCancel(ctx)
	p := &Peer{
		session: session,
		inbox:   transport.NewInbox(o.InboxSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.datagramPump(ctx)
	return p
}

func (p *Peer) datagramPump(ctx context.Context) {
	defer close(p.done)
	defer p.inbox.Close()

	for {
		message, err := p.session.ReceiveDatagram(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
			}
			return
		}
		p.inbox.Push(message)
	}
}

func (p *Peer) Send(b []byte) error {
	return p.session.SendDatagram(b)
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
	p.cancel()
	return p.session.CloseWithError(closeCodeMap[code], reason)
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.session.RemoteAddr()
}

var _ transport.Peer = (*Peer)(nil)
