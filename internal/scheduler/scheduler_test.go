package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

type fakeSnapshots struct {
	snapshot types.PortfolioSnapshot
	calls    int
}

func (f *fakeSnapshots) Snapshot(ctx context.Context) types.PortfolioSnapshot {
	f.calls++
	return f.snapshot
}

type fakeReserves struct{ reserves []types.Reserve }

func (f *fakeReserves) Reserves(ctx context.Context) []types.Reserve { return f.reserves }

type fakePolicies struct{ policy types.RiskPolicy }

func (f *fakePolicies) Policy() types.RiskPolicy { return f.policy }

type fakeStore struct {
	mu      sync.Mutex
	counter int
	saved   []types.CycleSnapshot
	nextErr error
}

func (f *fakeStore) NextCycleNumber(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	f.counter++
	return f.counter, nil
}

func (f *fakeStore) SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snapshot)
	return nil
}

func (f *fakeStore) lastSaved(t *testing.T) types.CycleSnapshot {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.saved)
	return f.saved[len(f.saved)-1]
}

type fakeRunner struct {
	applied []types.Suggestion
	result  types.ExecResult
}

func (f *fakeRunner) Apply(ctx context.Context, suggestion types.Suggestion) (types.ExecResult, bool) {
	if suggestion.Kind != types.SuggestLendingDeposit {
		return types.ExecResult{}, false
	}
	f.applied = append(f.applied, suggestion)
	return f.result, true
}

type fakeMaintainer struct{ receipts []types.ActionReceipt }

func (f *fakeMaintainer) Maintain(ctx context.Context) []types.ActionReceipt { return f.receipts }

func analyseNothing(types.PortfolioSnapshot, []types.Reserve, types.RiskPolicy) []types.Suggestion {
	return nil
}

func testPolicy() types.RiskPolicy {
	return types.RiskPolicy{MaxConsecutiveFailures: 5}
}

func newTestScheduler(t *testing.T, snapshots *fakeSnapshots, analyse AnalyseFunc, runner ActionRunner, store *fakeStore) *Scheduler {
	t.Helper()
	s, err := New(snapshots, &fakeReserves{}, &fakePolicies{policy: testPolicy()}, analyse, runner, store, time.Minute)
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadArguments(t *testing.T) {
	store := &fakeStore{}
	snapshots := &fakeSnapshots{}

	_, err := New(nil, &fakeReserves{}, &fakePolicies{}, analyseNothing, nil, store, time.Minute)
	assert.Error(t, err)

	_, err = New(snapshots, &fakeReserves{}, &fakePolicies{}, nil, nil, store, time.Minute)
	assert.Error(t, err)

	_, err = New(snapshots, &fakeReserves{}, &fakePolicies{}, analyseNothing, nil, store, 0)
	assert.Error(t, err)
}

func TestCleanCycleExecutesAndPersists(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{
		Timestamp:         time.Now(),
		TotalPortfolioUSD: 1000.0,
		CashReservePct:    100.0,
	}}
	store := &fakeStore{}
	runner := &fakeRunner{result: types.ExecResult{
		Outcome:   types.OutcomeSuccess,
		Success:   true,
		TxHash:    "0xabc",
		GasFeeUSD: 0.42,
	}}
	analyse := func(types.PortfolioSnapshot, []types.Reserve, types.RiskPolicy) []types.Suggestion {
		return []types.Suggestion{
			{Priority: types.PriorityMedium, Kind: types.SuggestLendingDeposit, AmountUSD: 500.0, Reason: "idle stable"},
			{Priority: types.PriorityLow, Kind: types.SuggestDiversify, Reason: "concentration"},
		}
	}
	s := newTestScheduler(t, snapshots, analyse, runner, store)

	s.runScheduled(context.Background())

	require.Len(t, runner.applied, 1, "only the deposit suggestion is actionable")
	saved := store.lastSaved(t)
	assert.Equal(t, 1, saved.CycleNumber)
	require.Len(t, saved.ActionReceipts, 1)
	assert.Equal(t, []string{"0xabc"}, saved.TransactionHashes)
	assert.InDelta(t, 0.42, saved.TotalGasFeeUSD, 1e-9)
	assert.Len(t, saved.Suggestions, 2)
	assert.Empty(t, saved.Errors)

	status := s.Status()
	assert.True(t, status.Running)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.False(t, status.LastCheck.IsZero())
	assert.Len(t, s.LastSuggestions(), 2)
	assert.InDelta(t, 1000.0, s.LastSnapshot().TotalPortfolioUSD, 1e-9)
}

func TestDirtySnapshotSkipsExecution(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{
		Timestamp:         time.Now(),
		TotalPortfolioUSD: 800.0,
		Errors:            []string{"lending read failed on arbitrum"},
	}}
	store := &fakeStore{}
	runner := &fakeRunner{}
	analyse := func(types.PortfolioSnapshot, []types.Reserve, types.RiskPolicy) []types.Suggestion {
		return []types.Suggestion{{Kind: types.SuggestLendingDeposit, AmountUSD: 100.0}}
	}
	s := newTestScheduler(t, snapshots, analyse, runner, store)

	_, err := s.runCycle(context.Background(), false)

	require.ErrorIs(t, err, ErrSnapshotDirty)
	assert.Empty(t, runner.applied, "no execution on dirty data")
	saved := store.lastSaved(t)
	assert.Len(t, saved.Suggestions, 1, "analysis still runs and is persisted")
	assert.Contains(t, saved.Errors, "lending read failed on arbitrum")
	assert.Empty(t, saved.ActionReceipts)
}

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{
		Timestamp: time.Now(),
		Errors:    []string{"oracle unreachable"},
	}}
	store := &fakeStore{}
	s := newTestScheduler(t, snapshots, analyseNothing, nil, store)

	for i := 0; i < 5; i++ {
		s.runScheduled(context.Background())
	}

	status := s.Status()
	assert.False(t, status.Running, "breaker must be open after 5 failed cycles")
	assert.Equal(t, 5, status.ConsecutiveErrors)

	// A halted scheduler skips scheduled cycles entirely.
	before := snapshots.calls
	s.runScheduled(context.Background())
	assert.Equal(t, before, snapshots.calls)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{
		Timestamp: time.Now(),
		Errors:    []string{"transient"},
	}}
	store := &fakeStore{}
	s := newTestScheduler(t, snapshots, analyseNothing, nil, store)

	s.runScheduled(context.Background())
	s.runScheduled(context.Background())
	assert.Equal(t, 2, s.Status().ConsecutiveErrors)

	snapshots.snapshot.Errors = nil
	s.runScheduled(context.Background())

	status := s.Status()
	assert.True(t, status.Running)
	assert.Zero(t, status.ConsecutiveErrors)
}

func TestForceRunBypassesOpenBreaker(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{
		Timestamp: time.Now(),
		Errors:    []string{"oracle unreachable"},
	}}
	store := &fakeStore{}
	s := newTestScheduler(t, snapshots, analyseNothing, nil, store)

	for i := 0; i < 5; i++ {
		s.runScheduled(context.Background())
	}
	require.False(t, s.Status().Running)
	cyclesBefore := store.counter

	err := s.ForceRun(context.Background())

	assert.ErrorIs(t, err, ErrSnapshotDirty, "the forced cycle still reports its own failure")
	assert.Equal(t, cyclesBefore+1, store.counter, "the forced cycle actually ran")
	status := s.Status()
	assert.False(t, status.Running, "a diagnostic run never resets the breaker")
	assert.Equal(t, 5, status.ConsecutiveErrors)
}

func TestCycleCounterFailureAbortsCycle(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{Timestamp: time.Now()}}
	store := &fakeStore{nextErr: errors.New("db down")}
	s := newTestScheduler(t, snapshots, analyseNothing, nil, store)

	_, err := s.runCycle(context.Background(), false)

	require.Error(t, err)
	assert.Zero(t, snapshots.calls, "no snapshot work without a cycle number")
	assert.Empty(t, store.saved)
}

func TestMaintenanceReceiptsAccumulate(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: types.PortfolioSnapshot{
		Timestamp:         time.Now(),
		TotalPortfolioUSD: 2000.0,
	}}
	store := &fakeStore{}
	s := newTestScheduler(t, snapshots, analyseNothing, nil, store)
	s.AttachMaintainer(&fakeMaintainer{receipts: []types.ActionReceipt{
		{
			Suggestion: types.Suggestion{Kind: types.SuggestReduceDeployed, Reason: "range drift"},
			Result: types.ExecResult{
				Outcome: types.OutcomeSuccess, Success: true, TxHash: "0xdef", GasFeeUSD: 1.1,
			},
		},
		{
			Suggestion: types.Suggestion{Kind: types.SuggestReduceDeployed, Reason: "range drift"},
			Result:     types.Failed("reopen reverted"),
		},
	}})

	_, err := s.runCycle(context.Background(), false)

	require.NoError(t, err)
	saved := store.lastSaved(t)
	require.Len(t, saved.ActionReceipts, 2)
	assert.Equal(t, []string{"0xdef"}, saved.TransactionHashes)
	assert.InDelta(t, 1.1, saved.TotalGasFeeUSD, 1e-9)
	require.Len(t, saved.Errors, 1)
	assert.Equal(t, "maintenance: reopen reverted", saved.Errors[0])
	assert.Equal(t, 2, snapshots.calls, "a final snapshot follows executed actions")
}

func TestJitteredIntervalStaysWithinBounds(t *testing.T) {
	s := &Scheduler{interval: time.Minute}
	base := float64(time.Minute)
	low := time.Duration(base * (1 - jitterFraction))
	high := time.Duration(base * (1 + jitterFraction))

	for i := 0; i < 200; i++ {
		d := s.jitteredInterval()
		assert.GreaterOrEqual(t, d, low)
		assert.LessOrEqual(t, d, high)
	}
}
