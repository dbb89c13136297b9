package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// Peer is one connection to a remote node. Inbound peers are keyed by their
// remote address until they announce themselves.
type Peer struct {
	ID      string
	Addr    string
	Inbound bool

	conn     net.Conn
	mu       sync.Mutex
	closed   bool
	identity Identity
}

func newPeer(id, addr string, conn net.Conn, inbound bool) *Peer {
	return &Peer{ID: id, Addr: addr, Inbound: inbound, conn: conn}
}

// Connect dials addr. A non-nil tlsCfg makes it a mutual TLS connection.
func Connect(id, addr string, tlsCfg *tls.Config) (*Peer, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if tlsCfg != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return newPeer(id, addr, conn, false), nil
}

// Send writes msg as one frame. A stalled peer fails after writeTimeout
// rather than blocking the broadcaster.
func (p *Peer) Send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("peer %s closed", p.ID)
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return writeFrame(p.conn, msg)
}

// Receive blocks for the next frame. Only the node's read loop calls it.
func (p *Peer) Receive() (Message, error) {
	return readFrame(p.conn)
}

// Identity returns what the peer announced in its hello, if anything.
func (p *Peer) Identity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

func (p *Peer) setIdentity(id Identity) {
	p.mu.Lock()
	p.identity = id
	p.mu.Unlock()
}

// Close terminates the connection. It is safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.conn.Close()
	}
}
