package indexer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/indexer"
	"github.com/tolelom/pantheon/internal/testutil"
)

func TestIndexesFollowChainEvents(t *testing.T) {
	c := testutil.NewChain(t, nil)
	idx := indexer.New(testutil.NewMemDB(), c.Emitter, nil)

	alice, bob := testutil.NewWallet(t), testutil.NewWallet(t)
	c.Fund(alice.PubKey(), 100)
	c.Fund(bob.PubKey(), 100)
	a1 := c.Acquire(alice, catalog.Zeus)
	a2 := c.Acquire(alice, catalog.Athena)
	b1 := c.Acquire(bob, catalog.Hades)

	owned, err := idx.InstancesByOwner(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{a1, a2}, owned)

	c.MustSubmit(alice, core.TxInitiateMatch, core.InitiateMatchPayload{InstanceID: a1, Stake: 10})
	c.MustSubmit(alice, core.TxInitiateMatch, core.InitiateMatchPayload{InstanceID: a2, Stake: 20})
	c.MustSubmit(bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: 2, InstanceID: b1, Stake: 20})

	am, err := idx.MatchesByPlayer(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, am)
	bm, err := idx.MatchesByPlayer(bob.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, bm)

	none, err := idx.MatchesByPlayer("nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReceipts(t *testing.T) {
	c := testutil.NewChain(t, nil)
	idx := indexer.New(testutil.NewMemDB(), c.Emitter, nil)
	w := testutil.NewWallet(t)
	c.Fund(w.PubKey(), 100)

	tx, err := w.Transfer(testutil.ChainID, "bob", 40, 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.Execute(tx))

	r, err := idx.Receipt(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptSuccess, r.Status)
	assert.Equal(t, core.TxTransfer, r.Type)
	assert.Equal(t, c.Height, r.BlockHeight)

	block := core.NewBlock(c.Height+1, "", "p", nil)
	block.SetRejected([]core.Rejection{{
		TxID: "rejected-tx", Type: core.TxMakeMove, From: w.PubKey(),
		Code: gameerr.CodeNotYourTurn, Error: "it is the opponent's turn",
	}})
	c.Executor.EmitRejections(block)

	r, err = idx.Receipt("rejected-tx")
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptRejected, r.Status)
	assert.Equal(t, gameerr.CodeNotYourTurn, r.Code)

	_, err = idx.Receipt("never-seen")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestOngoingMatches(t *testing.T) {
	c := testutil.NewChain(t, nil)
	idx := indexer.New(testutil.NewMemDB(), c.Emitter, nil)
	alice, bob := testutil.NewWallet(t), testutil.NewWallet(t)
	c.Fund(alice.PubKey(), 100)
	c.Fund(bob.PubKey(), 100)
	a := c.Acquire(alice, catalog.Zeus)
	b := c.Acquire(bob, catalog.Poseidon)

	c.MustSubmit(alice, core.TxInitiateMatch, core.InitiateMatchPayload{InstanceID: a, Stake: 10})
	ongoing, err := idx.OngoingMatches()
	require.NoError(t, err)
	assert.Empty(t, ongoing)

	c.MustSubmit(bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: 1, InstanceID: b, Stake: 10})
	ongoing, err = idx.OngoingMatches()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ongoing)

	c.Advance(c.Rules.MatchTimeout.Duration())
	c.MustSubmit(bob, core.TxClaimTimeout, core.MatchRefPayload{MatchID: 1})
	ongoing, err = idx.OngoingMatches()
	require.NoError(t, err)
	assert.Empty(t, ongoing)
}
