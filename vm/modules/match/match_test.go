package match_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/internal/testutil"
	"github.com/tolelom/pantheon/wallet"
)

const (
	stake   = 1_000_000
	funding = 10_000_000
)

type fixture struct {
	chain          *testutil.Chain
	alice, bob     *wallet.Wallet
	aliceID, bobID uint64
}

func setup(t *testing.T, mutate func(*core.Rules)) *fixture {
	t.Helper()
	c := testutil.NewChain(t, mutate)
	f := &fixture{chain: c, alice: testutil.NewWallet(t), bob: testutil.NewWallet(t)}
	c.Fund(f.alice.PubKey(), funding)
	c.Fund(f.bob.PubKey(), funding)
	f.aliceID = c.Acquire(f.alice, catalog.Zeus)
	f.bobID = c.Acquire(f.bob, catalog.Zeus)
	return f
}

// open has alice initiate a match at stake and returns its id.
func (f *fixture) open(t *testing.T) uint64 {
	t.Helper()
	f.chain.MustSubmit(f.alice, core.TxInitiateMatch, core.InitiateMatchPayload{InstanceID: f.aliceID, Stake: stake})
	ev := f.chain.EventsOf(events.EventMatchInitiated)
	require.NotEmpty(t, ev)
	return ev[len(ev)-1].Data["match_id"].(uint64)
}

// start opens a match and has bob join it.
func (f *fixture) start(t *testing.T) uint64 {
	t.Helper()
	id := f.open(t)
	f.chain.MustSubmit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: f.bobID, Stake: stake})
	return id
}

func (f *fixture) wallet(addr string) *wallet.Wallet {
	if addr == f.alice.PubKey() {
		return f.alice
	}
	return f.bob
}

func assertCode(t *testing.T, err error, code gameerr.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, gameerr.GetCode(err), "error: %v", err)
}

func TestMatchLifecycleKnockout(t *testing.T) {
	f := setup(t, nil)
	c := f.chain

	id := f.open(t)
	m := c.Match(id)
	assert.Equal(t, core.MatchFinding, m.Status)
	assert.Equal(t, uint64(funding-stake), c.Balance(f.alice.PubKey()))
	assert.Equal(t, uint64(stake), c.Balance(core.EscrowAddress))
	finding, err := c.State.FindingMatches(stake)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, finding)

	c.MustSubmit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: f.bobID, Stake: stake})
	m = c.Match(id)
	assert.Equal(t, core.MatchOngoing, m.Status)
	assert.Equal(t, f.alice.PubKey(), m.TurnOwner())
	assert.Equal(t, uint64(2*stake), c.Balance(core.EscrowAddress))
	finding, err = c.State.FindingMatches(stake)
	require.NoError(t, err)
	assert.Empty(t, finding)

	for i := 0; i < 200 && m.Status == core.MatchOngoing; i++ {
		usable := m.Duel.Usable(m.Duel.Turn)
		require.NotEmpty(t, usable)
		c.MustSubmit(f.wallet(m.TurnOwner()), core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: usable[0]})
		m = c.Match(id)
	}
	require.Equal(t, core.MatchCompleted, m.Status)
	assert.Equal(t, battle.ReasonKnockout, m.EndReason)
	require.NotEmpty(t, m.Winner)

	// 2.5% of the pot: 1.95 to the winner, 0.05 to the treasury
	assert.Equal(t, uint64(1_950_000), m.Payout)
	assert.Equal(t, uint64(50_000), m.Fee)
	assert.Equal(t, uint64(2*stake), m.Payout+m.Fee)
	assert.Equal(t, uint64(funding-stake+1_950_000), c.Balance(m.Winner))
	assert.Equal(t, uint64(50_000), c.Balance(c.Rules.Treasury))
	assert.Zero(t, c.Balance(core.EscrowAddress))

	loser := f.alice.PubKey()
	winnerID := f.bobID
	if m.Winner == f.alice.PubKey() {
		loser = f.bob.PubKey()
		winnerID = f.aliceID
	}
	wp, _ := c.State.GetProfile(m.Winner)
	lp, _ := c.State.GetProfile(loser)
	assert.Equal(t, uint64(1), wp.Wins)
	assert.Equal(t, uint64(1), wp.TotalMatches)
	assert.Equal(t, uint64(1), lp.Losses)
	assert.Equal(t, uint64(1), lp.TotalMatches)

	inst, err := c.State.GetCharacter(winnerID)
	require.NoError(t, err)
	assert.Equal(t, c.Rules.WinExperience, inst.Experience)

	done := c.EventsOf(events.EventMatchCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, m.Winner, done[0].Data["winner"])
}

func TestCompletedMatchIsFinal(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)

	c.Advance(c.Rules.MatchTimeout.Duration())
	c.MustSubmit(f.bob, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id})
	before := *c.Match(id)
	treasury := c.Balance(c.Rules.Treasury)

	assertCode(t, c.Submit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: id}), gameerr.CodeMatchNotOngoing)
	assertCode(t, c.Submit(f.bob, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id}), gameerr.CodeMatchNotOngoing)
	third := testutil.NewWallet(t)
	c.Fund(third.PubKey(), funding)
	thirdID := c.Acquire(third, catalog.Hades)
	assertCode(t, c.Submit(third, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: thirdID, Stake: stake}),
		gameerr.CodeMatchNotAvailable)
	assertCode(t, c.Submit(f.alice, core.TxCancelMatch, core.MatchRefPayload{MatchID: id}), gameerr.CodeMatchNotAvailable)

	assert.Equal(t, before, *c.Match(id))
	assert.Equal(t, treasury, c.Balance(c.Rules.Treasury))
	assert.Len(t, c.EventsOf(events.EventMatchCompleted), 1)
}

func TestMoveOutOfTurnChangesNothing(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)
	before := *c.Match(id)
	acc, _ := c.State.GetAccount(f.bob.PubKey())
	nonce := acc.Nonce

	err := c.Submit(f.bob, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 0})
	assertCode(t, err, gameerr.CodeNotYourTurn)

	assert.Equal(t, before, *c.Match(id))
	acc, _ = c.State.GetAccount(f.bob.PubKey())
	assert.Equal(t, nonce+1, acc.Nonce, "a refused move still spends its nonce")
	assert.Empty(t, c.EventsOf(events.EventMoveMade))
}

func TestMoveRejections(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)

	stranger := testutil.NewWallet(t)
	assertCode(t, c.Submit(stranger, core.TxMakeMove, core.MakeMovePayload{MatchID: id}), gameerr.CodeNotParticipant)
	assertCode(t, c.Submit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: 99}), gameerr.CodeNotFound)
	assertCode(t, c.Submit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 4}), gameerr.CodeInvalidAbility)

	c.MustSubmit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 0})
	c.MustSubmit(f.bob, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 1})
	// Lightning Bolt was used at turn 0 with cooldown 2; this is turn 2.
	c.MustSubmit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 0})
	c.MustSubmit(f.bob, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 3})
	assertCode(t, c.Submit(f.bob, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 1}), gameerr.CodeNotYourTurn)

	open := f.open(t)
	assertCode(t, c.Submit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: open}), gameerr.CodeMatchNotOngoing)
}

func TestInitiateRejections(t *testing.T) {
	f := setup(t, nil)
	c := f.chain

	cases := []struct {
		name string
		p    core.InitiateMatchPayload
		code gameerr.Code
	}{
		{"zero stake", core.InitiateMatchPayload{InstanceID: f.aliceID}, gameerr.CodeInvalidStake},
		{"unknown instance", core.InitiateMatchPayload{InstanceID: 42, Stake: stake}, gameerr.CodeNotFound},
		{"foreign instance", core.InitiateMatchPayload{InstanceID: f.bobID, Stake: stake}, gameerr.CodeNotOwner},
		{"stake above balance", core.InitiateMatchPayload{InstanceID: f.aliceID, Stake: funding + 1}, gameerr.CodeInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertCode(t, c.Submit(f.alice, core.TxInitiateMatch, tc.p), tc.code)
		})
	}
	assert.Equal(t, uint64(funding), c.Balance(f.alice.PubKey()))
	assert.Zero(t, c.Balance(core.EscrowAddress))
	assert.Empty(t, c.EventsOf(events.EventMatchInitiated))
}

func TestJoinRejections(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.open(t)

	poor := testutil.NewWallet(t)
	c.Fund(poor.PubKey(), stake-1)
	poorID := c.Acquire(poor, catalog.Athena)

	assertCode(t, c.Submit(f.alice, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: f.aliceID, Stake: stake}),
		gameerr.CodeCannotJoinOwnMatch)
	assertCode(t, c.Submit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: f.bobID, Stake: stake + 1}),
		gameerr.CodeIncorrectStake)
	assertCode(t, c.Submit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id + 1, InstanceID: f.bobID, Stake: stake}),
		gameerr.CodeNotFound)
	assertCode(t, c.Submit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: f.aliceID, Stake: stake}),
		gameerr.CodeNotOwner)
	assertCode(t, c.Submit(poor, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: poorID, Stake: stake}),
		gameerr.CodeInsufficientBalance)

	assert.Equal(t, core.MatchFinding, c.Match(id).Status)
	assert.Equal(t, uint64(stake), c.Balance(core.EscrowAddress))
}

func TestClaimTimeout(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)

	c.Advance(29 * time.Minute)
	assertCode(t, c.Submit(f.bob, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id}), gameerr.CodeTimeoutNotReached)

	c.Advance(time.Minute)
	// the side that owes a move cannot claim
	assertCode(t, c.Submit(f.alice, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id}), gameerr.CodeUnauthorized)
	c.MustSubmit(f.bob, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id})

	m := c.Match(id)
	assert.Equal(t, core.MatchCompleted, m.Status)
	assert.Equal(t, battle.ReasonTimeout, m.EndReason)
	assert.Equal(t, f.bob.PubKey(), m.Winner)
	assert.Equal(t, uint64(funding-stake+1_950_000), c.Balance(f.bob.PubKey()))
	assert.Equal(t, uint64(funding-stake), c.Balance(f.alice.PubKey()))
}

func TestMoveResetsTimeout(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)

	c.Advance(20 * time.Minute)
	c.MustSubmit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 1})
	c.Advance(20 * time.Minute)
	assertCode(t, c.Submit(f.alice, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id}), gameerr.CodeTimeoutNotReached)
}

func TestCancelMatch(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.open(t)

	assertCode(t, c.Submit(f.bob, core.TxCancelMatch, core.MatchRefPayload{MatchID: id}), gameerr.CodeUnauthorized)
	c.MustSubmit(f.alice, core.TxCancelMatch, core.MatchRefPayload{MatchID: id})

	m := c.Match(id)
	assert.Equal(t, core.MatchCompleted, m.Status)
	assert.Equal(t, battle.ReasonCancelled, m.EndReason)
	assert.Equal(t, uint64(funding), c.Balance(f.alice.PubKey()))
	assert.Zero(t, c.Balance(core.EscrowAddress))
	finding, err := c.State.FindingMatches(stake)
	require.NoError(t, err)
	assert.Empty(t, finding)
	assert.Len(t, c.EventsOf(events.EventMatchCancelled), 1)

	assertCode(t, c.Submit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: id, InstanceID: f.bobID, Stake: stake}),
		gameerr.CodeMatchNotAvailable)
}

func TestEmergencyCancel(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)

	assertCode(t, c.Submit(f.bob, core.TxEmergencyCancel, core.MatchRefPayload{MatchID: id}), gameerr.CodeUnauthorized)
	c.Advance(time.Hour)
	assertCode(t, c.Submit(c.Admin, core.TxEmergencyCancel, core.MatchRefPayload{MatchID: id}), gameerr.CodeTimeoutNotReached)

	c.Advance(c.Rules.EmergencyCancelAfter.Duration())
	c.MustSubmit(c.Admin, core.TxEmergencyCancel, core.MatchRefPayload{MatchID: id})

	m := c.Match(id)
	assert.Equal(t, core.MatchCompleted, m.Status)
	assert.Equal(t, battle.ReasonCancelled, m.EndReason)
	assert.Empty(t, m.Winner)
	assert.Equal(t, uint64(funding), c.Balance(f.alice.PubKey()))
	assert.Equal(t, uint64(funding), c.Balance(f.bob.PubKey()))
	assert.Zero(t, c.Balance(c.Rules.Treasury))

	ap, _ := c.State.GetProfile(f.alice.PubKey())
	assert.Zero(t, ap.TotalMatches)
}

func TestManaDeadlockDraw(t *testing.T) {
	f := setup(t, func(r *core.Rules) { r.ManaRegenPerTurn = 0 })
	c := f.chain
	id := f.start(t)

	// Lightning Bolt deals 10, leaving both sides on 120 health and no mana.
	m := c.Match(id)
	m.Duel.Sides[battle.Initiator].Mana = 18
	m.Duel.Sides[battle.Opponent].Mana = 0
	m.Duel.Sides[battle.Opponent].Health = 130
	m.Duel.Sides[battle.Opponent].MaxHealth = 130
	require.NoError(t, c.State.SetMatch(m))

	c.MustSubmit(f.alice, core.TxMakeMove, core.MakeMovePayload{MatchID: id, AbilityIndex: 0})

	m = c.Match(id)
	assert.Equal(t, core.MatchCompleted, m.Status)
	assert.Equal(t, battle.ReasonDraw, m.EndReason)
	assert.Empty(t, m.Winner)
	assert.Zero(t, m.Fee)
	assert.Equal(t, uint64(funding), c.Balance(f.alice.PubKey()))
	assert.Equal(t, uint64(funding), c.Balance(f.bob.PubKey()))
	assert.Zero(t, c.Balance(core.EscrowAddress))

	for _, w := range []*wallet.Wallet{f.alice, f.bob} {
		p, _ := c.State.GetProfile(w.PubKey())
		assert.Equal(t, uint64(1), p.Draws)
		assert.Equal(t, uint64(1), p.TotalMatches)
	}
	inst, _ := c.State.GetCharacter(f.aliceID)
	assert.Zero(t, inst.Experience)
}

func TestPaymentFailureRollsBack(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)
	c.Fund(core.EscrowAddress, stake)

	c.Advance(c.Rules.MatchTimeout.Duration())
	err := c.Submit(f.bob, core.TxClaimTimeout, core.MatchRefPayload{MatchID: id})
	assertCode(t, err, gameerr.CodePaymentFailed)

	assert.Equal(t, core.MatchOngoing, c.Match(id).Status)
	assert.Equal(t, uint64(funding-stake), c.Balance(f.bob.PubKey()))
	assert.Equal(t, uint64(stake), c.Balance(core.EscrowAddress))
	bp, _ := c.State.GetProfile(f.bob.PubKey())
	assert.Zero(t, bp.Wins)
	assert.Empty(t, c.EventsOf(events.EventMatchCompleted))
}

func TestFindingIndexPerStake(t *testing.T) {
	f := setup(t, nil)
	c := f.chain

	first := f.open(t)
	second := f.open(t)
	c.MustSubmit(f.alice, core.TxInitiateMatch, core.InitiateMatchPayload{InstanceID: f.aliceID, Stake: 2 * stake})

	ids, err := c.State.FindingMatches(stake)
	require.NoError(t, err)
	assert.Equal(t, []uint64{first, second}, ids)

	c.MustSubmit(f.bob, core.TxJoinMatch, core.JoinMatchPayload{MatchID: first, InstanceID: f.bobID, Stake: stake})
	ids, err = c.State.FindingMatches(stake)
	require.NoError(t, err)
	assert.Equal(t, []uint64{second}, ids)

	ids, err = c.State.FindingMatches(2 * stake)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestLevelSnapshottedAtLockIn(t *testing.T) {
	f := setup(t, nil)
	c := f.chain
	id := f.start(t)

	inst, err := c.State.GetCharacter(f.aliceID)
	require.NoError(t, err)
	inst.Level = 5
	require.NoError(t, c.State.SetCharacter(inst))

	m := c.Match(id)
	assert.Equal(t, uint32(1), m.Duel.Sides[battle.Initiator].Level)
	assert.Equal(t, uint64(120), m.Duel.Sides[battle.Initiator].MaxHealth)
}
