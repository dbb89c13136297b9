package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
	"github.com/tolelom/pantheon/internal/testutil"
	"github.com/tolelom/pantheon/storage"
)

func backends(t *testing.T) map[string]storage.DB {
	t.Helper()
	dir := t.TempDir()
	ldb, err := storage.Open(storage.BackendLevelDB, filepath.Join(dir, "level"))
	require.NoError(t, err)
	sdb, err := storage.Open(storage.BackendSQLite, filepath.Join(dir, "chain.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ldb.Close()
		_ = sdb.Close()
	})
	return map[string]storage.DB{
		"memory":  storage.NewMemLevelDB(),
		"leveldb": ldb,
		"sqlite":  sdb,
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := storage.Open("rocks", t.TempDir())
	assert.Error(t, err)
}

func TestDBContract(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, db.Set([]byte("p:b"), []byte("2")))
			require.NoError(t, db.Set([]byte("p:a"), []byte("1")))
			require.NoError(t, db.Set([]byte("q:a"), []byte("x")))

			b := db.NewBatch()
			b.Set([]byte("p:c"), []byte("3"))
			b.Delete([]byte("q:a"))
			require.NoError(t, b.Write())

			it := db.NewIterator([]byte("p:"))
			var keys []string
			for it.Next() {
				keys = append(keys, string(it.Key()))
			}
			it.Release()
			require.NoError(t, it.Error())
			assert.Equal(t, []string{"p:a", "p:b", "p:c"}, keys)

			_, err = db.Get([]byte("q:a"))
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, db.Delete([]byte("p:a")))
			_, err = db.Get([]byte("p:a"))
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestBlockStoreCommit(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bs := storage.NewBlockStore(db)
			tip, err := bs.GetTip()
			require.NoError(t, err)
			assert.Empty(t, tip)

			priv, pub, err := crypto.GenerateKeyPair()
			require.NoError(t, err)
			b := core.NewBlock(1, "0000", pub.Hex(), nil)
			b.Sign(priv)
			require.NoError(t, bs.CommitBlock(b))

			got, err := bs.GetBlockByHeight(1)
			require.NoError(t, err)
			assert.Equal(t, b.Hash, got.Hash)
			tip, err = bs.GetTip()
			require.NoError(t, err)
			assert.Equal(t, b.Hash, tip)
		})
	}
}

func TestStateDBRecords(t *testing.T) {
	s := testutil.NewStateDB()

	acc, err := s.GetAccount("nobody")
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)

	prof, err := s.GetProfile("nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", prof.Address)

	_, err = s.GetCharacter(1)
	assert.ErrorIs(t, err, core.ErrNotFound)

	c, err := core.NewCharacterInstance(1, catalog.Hades, "alice", 10)
	require.NoError(t, err)
	require.NoError(t, s.SetCharacter(c))
	got, err := s.GetCharacter(1)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	a, err := battle.NewCombatant(1, catalog.Hades, 1)
	require.NoError(t, err)
	m := &core.Match{ID: 3, Initiator: "alice", Stake: 10, Status: core.MatchFinding}
	m.Duel.Sides[battle.Initiator] = a
	require.NoError(t, s.SetMatch(m))
	gotM, err := s.GetMatch(3)
	require.NoError(t, err)
	assert.Equal(t, m, gotM)
}

func TestStateDBCountersAndFindingIndex(t *testing.T) {
	s := testutil.NewStateDB()

	for want := uint64(1); want <= 3; want++ {
		id, err := s.NextID(core.CounterMatch)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	id, err := s.NextID(core.CounterCharacter)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "counters are independent")

	require.NoError(t, s.SetFindingMatches(500, []uint64{2, 7}))
	ids, err := s.FindingMatches(500)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 7}, ids)

	ids, err = s.FindingMatches(501)
	require.NoError(t, err)
	assert.Empty(t, ids)

	rootWith := s.ComputeRoot()
	require.NoError(t, s.SetFindingMatches(500, nil))
	ids, err = s.FindingMatches(500)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NotEqual(t, rootWith, s.ComputeRoot())
}

func TestStateDBSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 100}))
	root := s.ComputeRoot()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 1}))
	_, err = s.NextID(core.CounterMatch)
	require.NoError(t, err)
	require.NoError(t, s.RevertToSnapshot(snap))

	acc, err := s.GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)
	assert.Equal(t, root, s.ComputeRoot())

	assert.Error(t, s.RevertToSnapshot(snap), "snapshot is consumed by revert")
}

// The root must not depend on whether entries are buffered or committed.
func TestStateDBRootStableAcrossCommit(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	require.NoError(t, s.SetAccount(&core.Account{Address: "a", Balance: 5}))
	require.NoError(t, s.SetProfile(&core.Profile{Address: "a", Wins: 1}))
	before := s.ComputeRoot()
	require.NoError(t, s.Commit())
	assert.Equal(t, before, s.ComputeRoot())

	fresh := storage.NewStateDB(db)
	assert.Equal(t, before, fresh.ComputeRoot())
}
