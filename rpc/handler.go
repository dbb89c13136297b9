package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	rules   core.Rules
	chainID string // expected chain_id; used to reject cross-chain replay transactions

	broadcast func(*core.Transaction)
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, rules core.Rules, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, rules: rules, chainID: chainID}
}

// OnAccepted registers fn to receive every transaction accepted by sendTx,
// typically to gossip it to peers.
func (h *Handler) OnAccepted(fn func(*core.Transaction)) { h.broadcast = fn }

// InstanceView is a character instance with its derived stats.
type InstanceView struct {
	*core.CharacterInstance
	Stats                  catalog.Stats `json:"stats"`
	ExperienceForNextLevel uint64        `json:"experience_for_next_level"`
}

// MatchView is a match with the fields clients derive from it.
type MatchView struct {
	*core.Match
	TurnOwner string `json:"turn_owner,omitempty"`
	// TimeoutClaimable is true when the waiting side could claim a timeout
	// in a block stamped with the current tip time.
	TimeoutClaimable bool `json:"timeout_claimable"`
}

// CombatState is the live duel of a match.
type CombatState struct {
	MatchID   uint64           `json:"match_id"`
	Status    core.MatchStatus `json:"status"`
	TurnOwner string           `json:"turn_owner,omitempty"`
	TurnCount uint64           `json:"turn_count"`
	Initiator any              `json:"initiator"`
	Opponent  any              `json:"opponent,omitempty"`
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getChainInfo":
		return okResponse(req.ID, h.bc.Info())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getRules":
		return okResponse(req.ID, h.rules)

	case "getAllArchetypeIds":
		ids := catalog.IDs()
		out := make([]int, len(ids))
		for i, id := range ids {
			out[i] = int(id)
		}
		return okResponse(req.ID, out)

	case "getArchetype":
		return h.getArchetype(req)

	case "getArchetypeAbilities":
		return h.getArchetypeAbilities(req)

	case "getInstance":
		return h.getInstance(req)

	case "getInstancesByOwner":
		return h.getInstancesByOwner(req)

	case "getProfile":
		return h.getProfile(req)

	case "getMatch":
		return h.getMatch(req)

	case "getMatchCombatState":
		return h.getMatchCombatState(req)

	case "getFindingMatches":
		return h.getFindingMatches(req)

	case "getMatchesByPlayer":
		return h.getMatchesByPlayer(req)

	case "sendTx":
		return h.sendTx(req)

	case "getTxStatus":
		return h.getTxStatus(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// params decodes req.Params into a T.
func params[T any](req Request) (T, *Response) {
	var p T
	if len(req.Params) == 0 {
		resp := errResponse(req.ID, CodeInvalidParams, "params required")
		return p, &resp
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return p, &resp
	}
	return p, nil
}

type idParams struct {
	ID uint64 `json:"id"`
}

type addressParams struct {
	Address string `json:"address"`
}

func (a addressParams) check(req Request) *Response {
	if a.Address == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "address is required")
		return &resp
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return failure(req.ID, err)
	}
	if block == nil {
		return failure(req.ID, core.ErrNotFound)
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	p, bad := params[addressParams](req)
	if bad != nil {
		return *bad
	}
	if bad := p.check(req); bad != nil {
		return *bad
	}
	acc, err := h.state.GetAccount(p.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address":       p.Address,
		"balance":       acc.Balance,
		"nonce":         acc.Nonce,
		"pending_nonce": h.mempool.NextNonce(p.Address, acc.Nonce),
	})
}

func (h *Handler) getArchetype(req Request) Response {
	p, bad := params[idParams](req)
	if bad != nil {
		return *bad
	}
	if p.ID > 255 {
		return failure(req.ID, gameerr.Newf(gameerr.CodeInvalidArchetype, "archetype %d does not exist", p.ID))
	}
	a, err := catalog.Get(uint8(p.ID))
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (h *Handler) getArchetypeAbilities(req Request) Response {
	p, bad := params[idParams](req)
	if bad != nil {
		return *bad
	}
	if p.ID > 255 {
		return failure(req.ID, gameerr.Newf(gameerr.CodeInvalidArchetype, "archetype %d does not exist", p.ID))
	}
	abs, err := catalog.Abilities(uint8(p.ID))
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, abs)
}

func (h *Handler) getInstance(req Request) Response {
	p, bad := params[idParams](req)
	if bad != nil {
		return *bad
	}
	inst, err := h.state.GetCharacter(p.ID)
	if err != nil {
		return failure(req.ID, err)
	}
	stats, err := inst.Stats()
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, InstanceView{
		CharacterInstance:      inst,
		Stats:                  stats,
		ExperienceForNextLevel: inst.ExperienceForNextLevel(),
	})
}

func (h *Handler) getInstancesByOwner(req Request) Response {
	p, bad := params[addressParams](req)
	if bad != nil {
		return *bad
	}
	if bad := p.check(req); bad != nil {
		return *bad
	}
	ids, err := h.indexer.InstancesByOwner(p.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, nonNil(ids))
}

func (h *Handler) getProfile(req Request) Response {
	p, bad := params[addressParams](req)
	if bad != nil {
		return *bad
	}
	if bad := p.check(req); bad != nil {
		return *bad
	}
	prof, err := h.state.GetProfile(p.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, prof)
}

func (h *Handler) loadMatch(req Request) (*core.Match, *Response) {
	p, bad := params[idParams](req)
	if bad != nil {
		return nil, bad
	}
	m, err := h.state.GetMatch(p.ID)
	if err != nil {
		resp := failure(req.ID, err)
		return nil, &resp
	}
	return m, nil
}

func (h *Handler) getMatch(req Request) Response {
	m, bad := h.loadMatch(req)
	if bad != nil {
		return *bad
	}
	return okResponse(req.ID, MatchView{
		Match:            m,
		TurnOwner:        m.TurnOwner(),
		TimeoutClaimable: m.Status == core.MatchOngoing && m.IdleFor(h.bc.Time()) >= h.rules.MatchTimeout.Nanos(),
	})
}

func (h *Handler) getMatchCombatState(req Request) Response {
	m, bad := h.loadMatch(req)
	if bad != nil {
		return *bad
	}
	cs := CombatState{
		MatchID:   m.ID,
		Status:    m.Status,
		TurnOwner: m.TurnOwner(),
		TurnCount: m.Duel.TurnCount,
		Initiator: m.Duel.Sides[0],
	}
	if m.Opponent != "" {
		cs.Opponent = m.Duel.Sides[1]
	}
	return okResponse(req.ID, cs)
}

func (h *Handler) getFindingMatches(req Request) Response {
	p, bad := params[struct {
		Stake uint64 `json:"stake"`
	}](req)
	if bad != nil {
		return *bad
	}
	ids, err := h.state.FindingMatches(p.Stake)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, nonNil(ids))
}

func (h *Handler) getMatchesByPlayer(req Request) Response {
	p, bad := params[addressParams](req)
	if bad != nil {
		return *bad
	}
	if bad := p.check(req); bad != nil {
		return *bad
	}
	ids, err := h.indexer.MatchesByPlayer(p.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, nonNil(ids))
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	acc, err := h.state.GetAccount(tx.From)
	if err != nil {
		return failure(req.ID, err)
	}
	if tx.Nonce < acc.Nonce {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("nonce %d already used (account nonce %d)", tx.Nonce, acc.Nonce))
	}
	if err := h.mempool.Add(&tx); err != nil {
		if errors.Is(err, core.ErrTxKnown) {
			return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
		}
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if h.broadcast != nil {
		h.broadcast(&tx)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getTxStatus(req Request) Response {
	p, bad := params[struct {
		TxID string `json:"tx_id"`
	}](req)
	if bad != nil {
		return *bad
	}
	if p.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	r, err := h.indexer.Receipt(p.TxID)
	switch {
	case err == nil:
		return okResponse(req.ID, r)
	case !errors.Is(err, core.ErrNotFound):
		return failure(req.ID, err)
	}
	status := core.ReceiptUnknown
	if _, ok := h.mempool.Get(p.TxID); ok {
		status = core.ReceiptPending
	}
	return okResponse(req.ID, core.Receipt{TxID: p.TxID, Status: status})
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
