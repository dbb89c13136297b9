package network_test

import (
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/config"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
	"github.com/tolelom/pantheon/crypto/certgen"
	"github.com/tolelom/pantheon/internal/testutil"
	"github.com/tolelom/pantheon/network"
)

// chainApplier appends blocks without executing them.
type chainApplier struct {
	mu sync.Mutex
	bc *core.Blockchain
}

func (a *chainApplier) ApplyBlock(b *core.Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.Header.Height <= a.bc.Height() {
		return nil
	}
	return a.bc.AddBlock(b)
}

func buildChain(t *testing.T, priv crypto.PrivateKey, n int) *core.Blockchain {
	t.Helper()
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	require.NoError(t, bc.Init())
	prev := "0000000000000000000000000000000000000000000000000000000000000000"
	for h := 0; h <= n; h++ {
		b := core.NewBlock(int64(h), prev, priv.Public().Hex(), nil)
		b.Sign(priv)
		require.NoError(t, bc.AddBlock(b))
		prev = b.Hash
	}
	return bc
}

func identity(id string) network.Identity {
	return network.Identity{NodeID: id, ChainID: testutil.ChainID, GenesisID: "genesis-1"}
}

func startNode(t *testing.T, id string, bc *core.Blockchain) (*network.Node, *network.Syncer, *core.Mempool) {
	t.Helper()
	mp := core.NewMempool()
	n := network.NewNode(identity(id), "127.0.0.1:0", mp, nil, nil)
	s := network.NewSyncer(n, bc, &chainApplier{bc: bc}, nil)
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n, s, mp
}

func TestSyncCatchesUp(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	full := buildChain(t, priv, 120)
	genesis, err := full.GetBlockByHeight(0)
	require.NoError(t, err)

	fresh := core.NewBlockchain(testutil.NewMemBlockStore())
	require.NoError(t, fresh.Init())
	require.NoError(t, fresh.AddBlock(genesis))

	a, _, _ := startNode(t, "a", full)
	b, _, _ := startNode(t, "b", fresh)

	// The hello exchange alone starts the sync.
	_, err = b.AddPeer("a", a.Addr())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fresh.Height() == 120 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, full.Tip().Hash, fresh.Tip().Hash)
}

func TestBlockGossip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	leader := buildChain(t, priv, 2)
	follower := core.NewBlockchain(testutil.NewMemBlockStore())
	require.NoError(t, follower.Init())
	for h := int64(0); h <= 2; h++ {
		blk, err := leader.GetBlockByHeight(h)
		require.NoError(t, err)
		require.NoError(t, follower.AddBlock(blk))
	}

	a, _, _ := startNode(t, "a", leader)
	b, _, _ := startNode(t, "b", follower)
	_, err = b.AddPeer("a", a.Addr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.PeerCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	next := core.NewBlock(3, leader.Tip().Hash, priv.Public().Hex(), nil)
	next.Sign(priv)
	require.NoError(t, leader.AddBlock(next))
	a.BroadcastBlock(next)

	require.Eventually(t, func() bool { return follower.Height() == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestTxGossip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bc := buildChain(t, priv, 0)

	a, _, mpA := startNode(t, "a", bc)
	b, _, _ := startNode(t, "b", bc)
	_, err = b.AddPeer("a", a.Addr())
	require.NoError(t, err)

	w := testutil.NewWallet(t)
	tx, err := w.Transfer(testutil.ChainID, "bob", 1, 0, 0)
	require.NoError(t, err)
	b.BroadcastTx(tx)

	require.Eventually(t, func() bool {
		_, ok := mpA.Get(tx.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func tlsFor(t *testing.T, dir, nodeID string) *tls.Config {
	t.Helper()
	p, err := certgen.Issue(dir, nodeID, nil)
	require.NoError(t, err)
	cfg, err := config.LoadTLSConfig(&config.TLSConfig{CACert: p.CACert, NodeCert: p.NodeCert, NodeKey: p.NodeKey})
	require.NoError(t, err)
	return cfg
}

func TestTxGossipOverMutualTLS(t *testing.T) {
	dir := t.TempDir()
	mpA := core.NewMempool()
	a := network.NewNode(identity("a"), "127.0.0.1:0", mpA, tlsFor(t, dir, "a"), nil)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)
	b := network.NewNode(identity("b"), "127.0.0.1:0", core.NewMempool(), tlsFor(t, dir, "b"), nil)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)

	_, err := b.AddPeer("a", a.Addr())
	require.NoError(t, err)

	w := testutil.NewWallet(t)
	tx, err := w.Transfer(testutil.ChainID, "bob", 1, 0, 0)
	require.NoError(t, err)
	b.BroadcastTx(tx)

	require.Eventually(t, func() bool {
		_, ok := mpA.Get(tx.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	// A node from another CA cannot get in.
	stranger := network.NewNode(identity("c"), "127.0.0.1:0", core.NewMempool(), tlsFor(t, t.TempDir(), "c"), nil)
	_, err = stranger.AddPeer("a", a.Addr())
	require.Error(t, err)
}

func TestPeerOnAnotherChainIsDropped(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bc := buildChain(t, priv, 3)
	a, _, _ := startNode(t, "a", bc)

	other := identity("x")
	other.GenesisID = "genesis-2"
	x := network.NewNode(other, "127.0.0.1:0", core.NewMempool(), nil, nil)
	require.NoError(t, x.Start())
	t.Cleanup(x.Stop)

	_, err = x.AddPeer("a", a.Addr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.PeerCount() == 0 && x.PeerCount() == 0 },
		5*time.Second, 10*time.Millisecond)

	b, _, _ := startNode(t, "b", buildChain(t, priv, 0))
	peer, err := b.AddPeer("a", a.Addr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return peer.Identity().NodeID == "a" }, 5*time.Second, 10*time.Millisecond)
}

func TestIdentityCompatible(t *testing.T) {
	self := identity("a")
	require.NoError(t, self.Compatible(identity("b")))

	wrongChain := identity("b")
	wrongChain.ChainID = "other"
	require.ErrorContains(t, self.Compatible(wrongChain), "chain")

	wrongGenesis := identity("b")
	wrongGenesis.GenesisID = "genesis-9"
	require.ErrorContains(t, self.Compatible(wrongGenesis), "genesis")
}
