package network

import (
	"go.uber.org/zap"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/logging"
)

const (
	defaultBatch = 50
	maxBatch     = 200
)

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}

// BlocksResponse carries a batch of blocks.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// BlockApplier validates, executes and commits a block from a peer.
// Blocks already on the local chain must be accepted as no-ops.
type BlockApplier interface {
	ApplyBlock(block *core.Block) error
}

// Syncer handles block gossip and batch synchronisation between nodes.
type Syncer struct {
	node    *Node
	bc      *core.Blockchain
	applier BlockApplier
	log     *zap.Logger
}

// NewSyncer creates a Syncer that requests missing blocks from peers and
// applies gossiped blocks through applier.
func NewSyncer(node *Node, bc *core.Blockchain, applier BlockApplier, log *zap.Logger) *Syncer {
	s := &Syncer{node: node, bc: bc, applier: applier, log: logging.OrNop(log)}
	node.OnPeerReady(s.SyncWithPeer)
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	node.Handle(MsgBlock, s.handleBlock)
	return s
}

// SyncWithPeer requests missing blocks from the given peer.
// Call this after AddPeer to initiate an outbound sync.
func (s *Syncer) SyncWithPeer(peer *Peer) {
	if err := s.RequestBlocks(peer, s.bc.Height()+1); err != nil {
		s.log.Warn("request blocks", zap.String("peer", peer.ID), zap.Error(err))
	}
}

// RequestBlocks asks peer for blocks starting at fromHeight.
func (s *Syncer) RequestBlocks(peer *Peer, fromHeight int64) error {
	msg, err := NewMessage(MsgGetBlocks, GetBlocksRequest{FromHeight: fromHeight, Limit: defaultBatch})
	if err != nil {
		return err
	}
	return peer.Send(msg)
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := msg.Decode(&req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > maxBatch {
		req.Limit = defaultBatch
	}
	blocks, err := s.bc.BlocksFrom(req.FromHeight, req.Limit)
	if err != nil {
		s.log.Warn("load blocks", zap.Int64("from", req.FromHeight), zap.Error(err))
	}
	resp, err := NewMessage(MsgBlocks, BlocksResponse{Blocks: blocks})
	if err != nil {
		s.log.Error("blocks response", zap.Error(err))
		return
	}
	if err := peer.Send(resp); err != nil {
		s.log.Debug("send blocks", zap.String("peer", peer.ID), zap.Error(err))
	}
}

func (s *Syncer) handleBlocks(peer *Peer, msg Message) {
	var resp BlocksResponse
	if err := msg.Decode(&resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		if err := s.applier.ApplyBlock(b); err != nil {
			s.log.Warn("sync block rejected", zap.String("peer", peer.ID),
				zap.Int64("height", b.Header.Height), zap.Error(err))
			return // stop processing blocks from this peer
		}
	}

	// A full batch means the peer may have more.
	if len(resp.Blocks) >= defaultBatch {
		s.SyncWithPeer(peer)
	}
}

// handleBlock applies a freshly produced block. A gap means this node fell
// behind, so it asks the sender for the missing range instead.
func (s *Syncer) handleBlock(peer *Peer, msg Message) {
	var b core.Block
	if err := msg.Decode(&b); err != nil {
		return
	}
	if b.Header.Height > s.bc.Height()+1 {
		s.SyncWithPeer(peer)
		return
	}
	if err := s.applier.ApplyBlock(&b); err != nil {
		s.log.Warn("gossiped block rejected", zap.String("peer", peer.ID),
			zap.Int64("height", b.Header.Height), zap.Error(err))
	}
}
