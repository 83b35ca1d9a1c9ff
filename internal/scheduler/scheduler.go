/*

Scheduler. The unattended trigger that drives scan cycles on a jittered
interval. Each cycle builds a portfolio snapshot, runs the decision engine,
executes whatever the action runner accepts, and persists a cycle snapshot.
Cycles run strictly one at a time; a run of consecutive failing cycles trips
the circuit breaker and halts the periodic trigger until an operator
intervenes. ForceRun bypasses the breaker for one-off diagnostic runs.

*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrHalted        = errors.New("scheduler halted by circuit breaker")
	ErrCycleRunning  = errors.New("a cycle is already running")
	ErrSnapshotDirty = errors.New("portfolio snapshot reported source errors")
)

// jitterFraction spreads cycle starts by up to 10% either way so the engine
// never synchronizes with upstream rate-limit windows.
const jitterFraction = 0.10

// SnapshotSource builds the portfolio view consumed by every cycle.
type SnapshotSource interface {
	Snapshot(ctx context.Context) types.PortfolioSnapshot
}

// ReserveSource serves the reserve table the decision engine analyses against.
type ReserveSource interface {
	Reserves(ctx context.Context) []types.Reserve
}

// PolicySource serves the active risk policy.
type PolicySource interface {
	Policy() types.RiskPolicy
}

// ActionRunner decides whether a suggestion is actionable and executes it.
// The second return is false when the runner declines to act.
type ActionRunner interface {
	Apply(ctx context.Context, suggestion types.Suggestion) (types.ExecResult, bool)
}

// Maintainer performs trigger-driven upkeep work each cycle, such as
// rebalancing drifted liquidity positions.
type Maintainer interface {
	Maintain(ctx context.Context) []types.ActionReceipt
}

// CycleStore persists cycle snapshots and the monotonic cycle counter.
type CycleStore interface {
	NextCycleNumber(ctx context.Context) (int, error)
	SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) error
}

// AnalyseFunc is the decision engine's pure analysis entrypoint.
type AnalyseFunc func(types.PortfolioSnapshot, []types.Reserve, types.RiskPolicy) []types.Suggestion

// Status is the scheduler's observable state.
type Status struct {
	Running           bool      `json:"running"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// Scheduler drives the periodic scan loop.
type Scheduler struct {
	snapshots  SnapshotSource
	reserves   ReserveSource
	policies   PolicySource
	analyse    AnalyseFunc
	runner     ActionRunner
	maintainer Maintainer
	store      CycleStore
	interval   time.Duration

	cycleMu sync.Mutex // serial cycle execution

	stateMu           sync.RWMutex
	running           bool
	lastCheck         time.Time
	consecutiveErrors int
	lastSnapshot      types.PortfolioSnapshot
	lastSuggestions   []types.Suggestion

	log zerolog.Logger
}

// New builds a scheduler. The interval is the nominal cycle period before
// jitter is applied.
func New(
	snapshots SnapshotSource,
	reserves ReserveSource,
	policies PolicySource,
	analyse AnalyseFunc,
	runner ActionRunner,
	store CycleStore,
	interval time.Duration,
) (*Scheduler, error) {
	if snapshots == nil || reserves == nil || policies == nil || analyse == nil || store == nil {
		return nil, fmt.Errorf("scheduler dependencies cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}
	return &Scheduler{
		snapshots: snapshots,
		reserves:  reserves,
		policies:  policies,
		analyse:   analyse,
		runner:    runner,
		store:     store,
		interval:  interval,
		running:   true,
		log:       logger.GetForComponent("scheduler"),
	}, nil
}

// AttachMaintainer registers the per-cycle maintenance hook. Must be called
// before RunLoop.
func (s *Scheduler) AttachMaintainer(maintainer Maintainer) {
	s.maintainer = maintainer
}

// Status reports the scheduler's observable state.
func (s *Scheduler) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return Status{
		Running:           s.running,
		LastCheck:         s.lastCheck,
		ConsecutiveErrors: s.consecutiveErrors,
	}
}

// LastSnapshot returns the most recent snapshot a cycle produced.
func (s *Scheduler) LastSnapshot() types.PortfolioSnapshot {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastSnapshot
}

// LastSuggestions returns the most recent analysis output.
func (s *Scheduler) LastSuggestions() []types.Suggestion {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return append([]types.Suggestion(nil), s.lastSuggestions...)
}

// RunLoop drives cycles until the context is cancelled. The first cycle runs
// immediately; every subsequent one waits the jittered interval. A tripped
// circuit breaker keeps the loop alive (so ForceRun still works) but skips
// scheduled cycles.
func (s *Scheduler) RunLoop(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.interval).
		Msg("Starting scheduler loop")

	s.runScheduled(ctx)

	timer := time.NewTimer(s.jitteredInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler loop stopped due to context cancellation")
			return
		case <-timer.C:
			s.runScheduled(ctx)
			timer.Reset(s.jitteredInterval())
		}
	}
}

// ForceRun executes one cycle immediately, bypassing the circuit breaker.
// Breaker state is left untouched so a diagnostic run never masks a halt.
func (s *Scheduler) ForceRun(ctx context.Context) error {
	s.log.Warn().Msg("Force run requested, bypassing circuit breaker")
	_, err := s.runCycle(ctx, true)
	return err
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	s.stateMu.RLock()
	halted := !s.running
	s.stateMu.RUnlock()
	if halted {
		s.log.Warn().Msg("Skipping scheduled cycle, circuit breaker is open")
		return
	}

	_, err := s.runCycle(ctx, false)
	s.recordOutcome(err)
}

// recordOutcome updates the failure counter and trips the breaker when the
// policy ceiling is reached.
func (s *Scheduler) recordOutcome(err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if err == nil {
		s.consecutiveErrors = 0
		return
	}

	s.consecutiveErrors++
	ceiling := s.policies.Policy().MaxConsecutiveFailures
	s.log.Error().
		Err(err).
		Int("consecutiveErrors", s.consecutiveErrors).
		Int("ceiling", ceiling).
		Msg("Cycle failed")

	if ceiling > 0 && s.consecutiveErrors >= ceiling {
		s.running = false
		s.log.Error().
			Int("consecutiveErrors", s.consecutiveErrors).
			Msg("OPERATOR ALERT: circuit breaker tripped, periodic trigger halted")
	}
}

// runCycle executes one full scan cycle. Capital-moving work is serialized:
// no two cycles ever overlap.
func (s *Scheduler) runCycle(ctx context.Context, forced bool) (types.CycleSnapshot, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycleStart := time.Now()
	cycleID := uuid.New().String()
	cycleLogger := s.log.With().Str("cycle_id", cycleID).Logger()
	cycleLogger.Info().Bool("forced", forced).Msg("--- Starting scan cycle ---")

	s.stateMu.Lock()
	s.lastCheck = cycleStart
	s.stateMu.Unlock()

	cycleNumber, err := s.store.NextCycleNumber(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to advance cycle counter")
		return types.CycleSnapshot{}, fmt.Errorf("cycle counter: %w", err)
	}

	cycle := types.CycleSnapshot{
		CycleNumber:       cycleNumber,
		Timestamp:         cycleStart,
		TransactionHashes: make([]string, 0),
		ActionReceipts:    make([]types.ActionReceipt, 0),
	}

	// Step 1: portfolio snapshot.
	cycleLogger.Info().Msg("Step 1: Building portfolio snapshot")
	snapshot := s.snapshots.Snapshot(ctx)
	cycle.InitialSnapshot = snapshot
	cycle.InitialPortfolioUSD = snapshot.TotalPortfolioUSD
	cycle.Errors = append(cycle.Errors, snapshot.Errors...)

	s.stateMu.Lock()
	s.lastSnapshot = snapshot
	s.stateMu.Unlock()

	// Step 2: analysis. Runs even on a dirty snapshot so the suggestions are
	// visible, but execution only proceeds on clean data.
	cycleLogger.Info().Msg("Step 2: Analysing portfolio")
	policy := s.policies.Policy()
	suggestions := s.analyse(snapshot, s.reserves.Reserves(ctx), policy)
	cycle.Suggestions = suggestions

	s.stateMu.Lock()
	s.lastSuggestions = suggestions
	s.stateMu.Unlock()

	cycleLogger.Info().
		Int("suggestions", len(suggestions)).
		Float64("portfolioUSD", snapshot.TotalPortfolioUSD).
		Msg("Analysis complete")

	if len(snapshot.Errors) > 0 {
		cycleLogger.Warn().
			Strs("sourceErrors", snapshot.Errors).
			Msg("Cycle degraded: snapshot has source errors, skipping execution")
		cycle.FinalPortfolioUSD = snapshot.TotalPortfolioUSD
		s.saveCycle(ctx, cycle, cycleLogger)
		return cycle, errors.Join(ErrSnapshotDirty, fmt.Errorf("%d source errors", len(snapshot.Errors)))
	}

	// Step 3: execution.
	if s.runner != nil && len(suggestions) > 0 {
		cycleLogger.Info().Msg("Step 3: Executing actionable suggestions")
		for _, suggestion := range suggestions {
			result, acted := s.runner.Apply(ctx, suggestion)
			if !acted {
				cycleLogger.Info().
					Str("kind", string(suggestion.Kind)).
					Str("reason", suggestion.Reason).
					Msg("Suggestion is advisory only, not executed")
				continue
			}
			cycle.ActionReceipts = append(cycle.ActionReceipts, types.ActionReceipt{
				Suggestion: suggestion,
				Result:     result,
				Timestamp:  time.Now(),
			})
			if result.TxHash != "" {
				cycle.TransactionHashes = append(cycle.TransactionHashes, result.TxHash)
			}
			cycle.TotalGasFeeUSD += result.GasFeeUSD
			if !result.Success {
				cycle.Errors = append(cycle.Errors, fmt.Sprintf("%s: %s", suggestion.Kind, result.Error))
			}
		}
	}

	// Step 4: maintenance. Trigger-driven upkeep such as LP rebalances.
	if s.maintainer != nil {
		cycleLogger.Info().Msg("Step 4: Running cycle maintenance")
		for _, receipt := range s.maintainer.Maintain(ctx) {
			cycle.ActionReceipts = append(cycle.ActionReceipts, receipt)
			if receipt.Result.TxHash != "" {
				cycle.TransactionHashes = append(cycle.TransactionHashes, receipt.Result.TxHash)
			}
			cycle.TotalGasFeeUSD += receipt.Result.GasFeeUSD
			if !receipt.Result.Success {
				cycle.Errors = append(cycle.Errors, fmt.Sprintf("maintenance: %s", receipt.Result.Error))
			}
		}
	}

	// Step 5: final state.
	if len(cycle.ActionReceipts) > 0 {
		final := s.snapshots.Snapshot(ctx)
		cycle.FinalPortfolioUSD = final.TotalPortfolioUSD
		s.stateMu.Lock()
		s.lastSnapshot = final
		s.stateMu.Unlock()
	} else {
		cycle.FinalPortfolioUSD = snapshot.TotalPortfolioUSD
	}
	cycle.NetChangeUSD = cycle.FinalPortfolioUSD - cycle.InitialPortfolioUSD

	s.saveCycle(ctx, cycle, cycleLogger)
	cycleLogger.Info().
		Dur("duration", time.Since(cycleStart)).
		Int("actions", len(cycle.ActionReceipts)).
		Float64("netChangeUSD", cycle.NetChangeUSD).
		Msg("--- Scan cycle complete ---")
	return cycle, nil
}

func (s *Scheduler) saveCycle(ctx context.Context, cycle types.CycleSnapshot, cycleLogger zerolog.Logger) {
	if err := s.store.SaveCycleSnapshot(ctx, cycle); err != nil {
		cycleLogger.Error().Err(err).Int("cycleNumber", cycle.CycleNumber).Msg("Failed to persist cycle snapshot")
	}
}

func (s *Scheduler) jitteredInterval() time.Duration {
	spread := float64(s.interval) * jitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return s.interval + time.Duration(offset)
}
