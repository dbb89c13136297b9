package core

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/gameerr"
)

// MaxPlatformFeeBps caps the platform fee at 50% of the prize pool.
const MaxPlatformFeeBps = 5000

// Duration is a time.Duration that reads and writes as a Go duration string
// ("30m") in JSON and environment variables.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Nanos returns the duration in nanoseconds, the unit of block timestamps.
func (d Duration) Nanos() int64 { return int64(d) }

// Duration converts back to a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Rules are the consensus-critical game parameters fixed at genesis.
type Rules struct {
	PlatformFeeBps       uint64   `json:"platform_fee_bps"`
	AcquirePrice         uint64   `json:"acquire_price"`
	MatchTimeout         Duration `json:"match_timeout"`
	EmergencyCancelAfter Duration `json:"emergency_cancel_after"`
	ManaRegenPerTurn     uint64   `json:"mana_regen_per_turn"`
	WinExperience        uint64   `json:"win_experience"`
	Treasury             string   `json:"treasury"` // receives fees and acquisition payments
	Admin                string   `json:"admin"`    // may emergency-cancel stuck matches
}

// DefaultRules returns the standard parameters. Treasury and Admin are left
// empty and must be set by genesis.
func DefaultRules() Rules {
	return Rules{
		PlatformFeeBps:       250,
		AcquirePrice:         0,
		MatchTimeout:         Duration(30 * time.Minute),
		EmergencyCancelAfter: Duration(24 * time.Hour),
		ManaRegenPerTurn:     battle.DefaultManaRegen,
		WinExperience:        50,
	}
}

// Validate checks that the rules are internally consistent.
func (r Rules) Validate() error {
	if r.PlatformFeeBps > MaxPlatformFeeBps {
		return fmt.Errorf("platform_fee_bps %d exceeds %d", r.PlatformFeeBps, MaxPlatformFeeBps)
	}
	if r.MatchTimeout <= 0 {
		return errors.New("match_timeout must be positive")
	}
	if r.EmergencyCancelAfter < r.MatchTimeout {
		return fmt.Errorf("emergency_cancel_after %s is shorter than match_timeout %s",
			r.EmergencyCancelAfter, r.MatchTimeout)
	}
	if r.Treasury == "" {
		return errors.New("treasury address required")
	}
	if r.Treasury == EscrowAddress {
		return errors.New("treasury cannot be the escrow account")
	}
	return nil
}

// BattleOptions returns the resolution options these rules imply.
func (r Rules) BattleOptions() battle.Options {
	return battle.Options{ManaRegen: r.ManaRegenPerTurn}
}

// SplitPrize divides the pool of a match with the given per-side stake into
// the winner's payout and the platform fee. payout+fee always equals
// 2*stake; the fee rounds down.
func (r Rules) SplitPrize(stake uint64) (payout, fee uint64, err error) {
	if stake > math.MaxUint64/2 {
		return 0, 0, gameerr.Newf(gameerr.CodePaymentFailed, "prize pool for stake %d overflows", stake)
	}
	pool := stake * 2
	hi, lo := bits.Mul64(pool, r.PlatformFeeBps)
	if hi >= 10_000 {
		return 0, 0, gameerr.Newf(gameerr.CodePaymentFailed, "fee for pool %d overflows", pool)
	}
	fee, _ = bits.Div64(hi, lo, 10_000)
	return pool - fee, fee, nil
}
