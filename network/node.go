package network

import (
	"crypto/tls"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/logging"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers bounds simultaneous connections, inbound and outbound.
const DefaultMaxPeers = 50

// peerSet is the node's live connections keyed by peer id.
type peerSet struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func (s *peerSet) add(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers == nil {
		s.peers = make(map[string]*Peer)
	}
	s.peers[p.ID] = p
}

// remove forgets p, unless its id has since been taken by a newer connection.
func (s *peerSet) remove(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[p.ID] == p {
		delete(s.peers, p.ID)
	}
}

func (s *peerSet) get(id string) *Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[id]
}

func (s *peerSet) all() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.peers))
}

func (s *peerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Node is one arena node's P2P endpoint. It admits peers running the same
// chain, gossips transactions and blocks, and hands everything else to the
// registered handlers.
type Node struct {
	self       Identity
	listenAddr string
	mempool    *core.Mempool
	tlsConfig  *tls.Config // nil means plain TCP
	maxPeers   int
	log        *zap.Logger

	peers peerSet

	mu       sync.RWMutex
	handlers map[MsgType]MessageHandler
	onReady  func(*Peer)

	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNode creates a Node that will listen on listenAddr and announce self.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewNode(self Identity, listenAddr string, mempool *core.Mempool, tlsCfg *tls.Config, log *zap.Logger) *Node {
	n := &Node{
		self:       self,
		listenAddr: listenAddr,
		mempool:    mempool,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		log:        logging.OrNop(log),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgHello, n.handleHello)
	n.Handle(MsgTx, n.handleTx)
	return n
}

// Self returns the identity this node announces.
func (n *Node) Self() Identity { return n.self }

// Handle registers the handler for typ, replacing any earlier one.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// OnPeerReady registers fn to run once a peer's hello has been accepted.
func (n *Node) OnPeerReady(fn func(*Peer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onReady = fn
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var (
		ln  net.Listener
		err error
	)
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Addr returns the bound address, which differs from the configured one when
// listening on port 0.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.listenAddr
	}
	return n.listener.Addr().String()
}

// Stop closes the listener and every peer. It is safe to call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.listener != nil {
			n.listener.Close()
		}
		for _, p := range n.peers.all() {
			p.Close()
		}
	})
}

// AddPeer dials addr and introduces this node. The peer is usable at once;
// block sync starts when its hello comes back.
func (n *Node) AddPeer(id, addr string) (*Peer, error) {
	if n.peers.len() >= n.maxPeers {
		return nil, fmt.Errorf("peer limit %d reached", n.maxPeers)
	}
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return nil, err
	}
	n.attach(peer)
	n.sendHello(peer)
	return peer, nil
}

// Peer returns the connected peer with the given id, or nil.
func (n *Node) Peer(id string) *Peer { return n.peers.get(id) }

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return n.peers.len() }

// Broadcast sends msg to every connected peer. Failures only drop that peer's
// copy.
func (n *Node) Broadcast(msg Message) {
	for _, p := range n.peers.all() {
		if err := p.Send(msg); err != nil {
			n.log.Debug("broadcast", zap.String("peer", p.ID), zap.String("type", string(msg.Type)), zap.Error(err))
		}
	}
}

// BroadcastTx gossips an accepted game transaction.
func (n *Node) BroadcastTx(tx *core.Transaction) { n.broadcastValue(MsgTx, tx) }

// BroadcastBlock gossips a freshly committed block.
func (n *Node) BroadcastBlock(block *core.Block) { n.broadcastValue(MsgBlock, block) }

func (n *Node) broadcastValue(typ MsgType, v any) {
	msg, err := NewMessage(typ, v)
	if err != nil {
		n.log.Error("broadcast", zap.Error(err))
		return
	}
	n.Broadcast(msg)
}

func (n *Node) sendHello(peer *Peer) {
	msg, err := NewMessage(MsgHello, n.self)
	if err == nil {
		err = peer.Send(msg)
	}
	if err != nil {
		n.log.Warn("send hello", zap.String("peer", peer.ID), zap.Error(err))
	}
}

// acceptLoop backs off exponentially on repeated accept errors, such as
// running out of file descriptors, instead of spinning.
func (n *Node) acceptLoop() {
	pause := backoff.NewExponentialBackOff()
	pause.InitialInterval = 50 * time.Millisecond
	pause.MaxInterval = 2 * time.Second
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
			}
			wait := pause.NextBackOff()
			n.log.Warn("accept", zap.Duration("retry_in", wait), zap.Error(err))
			time.Sleep(wait)
			continue
		}
		pause.Reset()
		if n.peers.len() >= n.maxPeers {
			n.log.Warn("peer limit reached, refusing connection", zap.Int("max", n.maxPeers),
				zap.Stringer("remote", conn.RemoteAddr()))
			conn.Close()
			continue
		}
		remote := conn.RemoteAddr().String()
		n.attach(newPeer(remote, remote, conn, true))
	}
}

func (n *Node) attach(peer *Peer) {
	n.peers.add(peer)
	go n.readLoop(peer)
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("read loop panic", zap.String("peer", peer.ID), zap.Any("panic", r))
		}
		peer.Close()
		n.peers.remove(peer)
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h := n.handlers[msg.Type]
		n.mu.RUnlock()
		if h != nil {
			h(peer, msg)
		}
	}
}

// handleHello admits a peer on the same chain and drops any other. Inbound
// peers get our hello back so both sides can sync.
func (n *Node) handleHello(peer *Peer, msg Message) {
	var id Identity
	if err := msg.Decode(&id); err != nil {
		n.log.Debug("bad hello", zap.String("peer", peer.ID), zap.Error(err))
		peer.Close()
		return
	}
	if err := n.self.Compatible(id); err != nil {
		n.log.Warn("dropping peer on another chain", zap.String("peer", peer.ID),
			zap.String("node_id", id.NodeID), zap.Error(err))
		peer.Close()
		return
	}
	peer.setIdentity(id)
	if peer.Inbound {
		n.sendHello(peer)
	}
	n.mu.RLock()
	ready := n.onReady
	n.mu.RUnlock()
	if ready != nil {
		ready(peer)
	}
}

// handleTx queues a gossiped transaction. Re-gossip of a known tx is normal.
func (n *Node) handleTx(_ *Peer, msg Message) {
	var tx core.Transaction
	if err := msg.Decode(&tx); err != nil {
		n.log.Debug("gossiped tx", zap.Error(err))
		return
	}
	if err := n.mempool.Add(&tx); err != nil && !errors.Is(err, core.ErrTxKnown) {
		n.log.Debug("mempool add", zap.String("tx_id", tx.ID), zap.Error(err))
	}
}
