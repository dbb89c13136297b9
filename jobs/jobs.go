// Package jobs runs periodic node maintenance: evicting expired mempool
// entries and reporting matches that have stalled. Reports only log; a
// timeout still has to be claimed by a player.
package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/logging"
	"github.com/tolelom/pantheon/units"
)

// MatchLister lists the ids of ongoing matches.
type MatchLister interface {
	OngoingMatches() ([]uint64, error)
}

// StaleMatch is an ongoing match that has gone quiet.
type StaleMatch struct {
	ID        uint64
	TurnOwner string
	Idle      time.Duration
	Pot       uint64
}

// Report groups stale matches by what can be done about them.
type Report struct {
	// Claimable matches can be claimed by the waiting player.
	Claimable []StaleMatch
	// Cancellable matches are also past the emergency cancel threshold.
	Cancellable []StaleMatch
}

// Runner owns the scheduler and the maintenance tasks.
type Runner struct {
	mempool  *core.Mempool
	state    core.State
	matches  MatchLister
	rules    core.Rules
	chainNow func() int64
	log      *zap.Logger

	sched gocron.Scheduler
}

// New creates a Runner. chainNow returns the tip timestamp used to judge
// match idleness.
func New(mempool *core.Mempool, state core.State, matches MatchLister, rules core.Rules, chainNow func() int64, log *zap.Logger) *Runner {
	return &Runner{
		mempool:  mempool,
		state:    state,
		matches:  matches,
		rules:    rules,
		chainNow: chainNow,
		log:      logging.OrNop(log).Named("jobs"),
	}
}

// Start schedules both tasks every interval.
func (r *Runner) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("maintenance interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("new scheduler: %w", err)
	}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.PruneMempool(time.Now()) }),
		gocron.WithName("prune-mempool"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.reportStale),
		gocron.WithName("stale-matches"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule stale report: %w", err)
	}
	s.Start()
	r.sched = s
	r.log.Info("maintenance started", zap.Duration("interval", interval))
	return nil
}

// Shutdown stops the scheduler and waits for running tasks.
func (r *Runner) Shutdown() error {
	if r.sched == nil {
		return nil
	}
	return r.sched.Shutdown()
}

// PruneMempool drops expired transactions and returns how many went.
func (r *Runner) PruneMempool(now time.Time) int {
	n := r.mempool.Prune(now.UnixNano())
	if n > 0 {
		r.log.Info("pruned mempool", zap.Int("dropped", n), zap.Int("remaining", r.mempool.Size()))
	}
	return n
}

// StaleMatches inspects every ongoing match as of the chain tip.
func (r *Runner) StaleMatches() (Report, error) {
	ids, err := r.matches.OngoingMatches()
	if err != nil {
		return Report{}, fmt.Errorf("list ongoing matches: %w", err)
	}
	now := r.chainNow()
	var rep Report
	for _, id := range ids {
		m, err := r.state.GetMatch(id)
		if err != nil {
			return rep, fmt.Errorf("load match %d: %w", id, err)
		}
		if m.Status != core.MatchOngoing {
			continue
		}
		idle := m.IdleFor(now)
		if idle < r.rules.MatchTimeout.Nanos() {
			continue
		}
		sm := StaleMatch{ID: m.ID, TurnOwner: m.TurnOwner(), Idle: time.Duration(idle), Pot: 2 * m.Stake}
		rep.Claimable = append(rep.Claimable, sm)
		if idle >= r.rules.EmergencyCancelAfter.Nanos() {
			rep.Cancellable = append(rep.Cancellable, sm)
		}
	}
	return rep, nil
}

func (r *Runner) reportStale() {
	rep, err := r.StaleMatches()
	if err != nil {
		r.log.Error("stale match report", zap.Error(err))
		return
	}
	for _, m := range rep.Claimable {
		r.log.Info("match timeout claimable",
			zap.Uint64("match_id", m.ID),
			zap.String("waiting_on", m.TurnOwner),
			zap.Duration("idle", m.Idle),
			zap.String("pot", units.Format(m.Pot)))
	}
	for _, m := range rep.Cancellable {
		r.log.Warn("match eligible for emergency cancel",
			zap.Uint64("match_id", m.ID),
			zap.Duration("idle", m.Idle))
	}
}
