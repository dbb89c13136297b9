package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
)

// Key spaces of the world state. Every key the ledger writes lives under
// one of them, and the state root covers exactly these.
const (
	prefixAccount   = "acct:"
	prefixCharacter = "char:"
	prefixProfile   = "prof:"
	prefixMatch     = "match:"
	prefixFinding   = "find:"
	prefixCounter   = "meta:"
)

var statePrefixes = []string{
	prefixAccount, prefixCharacter, prefixProfile,
	prefixMatch, prefixFinding, prefixCounter,
}

// overlay is the uncommitted part of the state. A nil value marks a delete.
type overlay map[string][]byte

// StateDB implements core.State over a DB. Writes collect in an overlay
// until Commit; Snapshot/RevertToSnapshot roll back a failed transaction or
// block. Readers may run concurrently with the block producer.
type StateDB struct {
	mu        sync.RWMutex
	db        DB
	pending   overlay
	snapshots []overlay
}

func NewStateDB(db DB) *StateDB {
	return &StateDB{db: db, pending: make(overlay)}
}

func idKey(prefix string, id uint64) string {
	return prefix + strconv.FormatUint(id, 10)
}

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.pending[key]; ok {
		if v == nil {
			return nil, core.ErrNotFound
		}
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) put(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = val
}

// load decodes key into a T. When zero is non-nil a missing key yields
// zero() instead of ErrNotFound.
func load[T any](s *StateDB, key string, zero func() *T) (*T, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) && zero != nil {
		return zero(), nil
	}
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (s *StateDB) store(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.put(key, data)
	return nil
}

// GetAccount returns a zero-balance account for unknown addresses.
func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	return load(s, prefixAccount+address, func() *core.Account { return &core.Account{Address: address} })
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.store(prefixAccount+acc.Address, acc)
}

func (s *StateDB) GetCharacter(id uint64) (*core.CharacterInstance, error) {
	return load[core.CharacterInstance](s, idKey(prefixCharacter, id), nil)
}

func (s *StateDB) SetCharacter(c *core.CharacterInstance) error {
	return s.store(idKey(prefixCharacter, c.ID), c)
}

// GetProfile returns an empty profile for players with no history.
func (s *StateDB) GetProfile(address string) (*core.Profile, error) {
	return load(s, prefixProfile+address, func() *core.Profile { return &core.Profile{Address: address} })
}

func (s *StateDB) SetProfile(p *core.Profile) error {
	return s.store(prefixProfile+p.Address, p)
}

func (s *StateDB) GetMatch(id uint64) (*core.Match, error) {
	return load[core.Match](s, idKey(prefixMatch, id), nil)
}

func (s *StateDB) SetMatch(m *core.Match) error {
	return s.store(idKey(prefixMatch, m.ID), m)
}

func (s *StateDB) FindingMatches(stake uint64) ([]uint64, error) {
	ids, err := load(s, idKey(prefixFinding, stake), func() *[]uint64 { return new([]uint64) })
	if err != nil {
		return nil, err
	}
	return *ids, nil
}

// SetFindingMatches stores the queue for stake. A drained queue is deleted
// so it does not linger in the state root.
func (s *StateDB) SetFindingMatches(stake uint64, ids []uint64) error {
	key := idKey(prefixFinding, stake)
	if len(ids) == 0 {
		s.put(key, nil)
		return nil
	}
	return s.store(key, ids)
}

// NextID bumps a ledger counter. Counters are stored as decimal text.
func (s *StateDB) NextID(counter string) (uint64, error) {
	key := prefixCounter + counter
	var n uint64
	data, err := s.get(key)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if n, err = strconv.ParseUint(string(data), 10, 64); err != nil {
			return 0, fmt.Errorf("decode counter %s: %w", counter, err)
		}
	}
	n++
	s.put(key, []byte(strconv.FormatUint(n, 10)))
	return n, nil
}

// Snapshot records the overlay and returns an id for RevertToSnapshot.
// Stored values are never mutated in place, so a shallow copy suffices.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, maps.Clone(s.pending))
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot drops every write made after snapshot id, and id itself
// along with any later snapshots.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	s.pending = s.snapshots[id]
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot hashes the full world state as it would be after Commit:
// every persisted entry under the state prefixes merged with the overlay,
// sorted by key, each key and value length-prefixed.
func (s *StateDB) ComputeRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			merged[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}
	for k, v := range s.pending {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	var buf bytes.Buffer
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(k))))
		buf.WriteString(k)
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(merged[k]))))
		buf.Write(merged[k])
	}
	return crypto.Hash(buf.Bytes())
}

// Commit flushes the overlay in one batch and forgets all snapshots. The
// producer computes the root first, signs, stores the block, then commits.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.pending {
		if v == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Set([]byte(k), v)
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.pending = make(overlay)
	s.snapshots = nil
	return nil
}
