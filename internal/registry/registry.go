package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/NovaOS-sub002/internal/logger"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrFetchFailed = errors.New("registry fetch failed")
	ErrBackoffGate = errors.New("registry fetch gated by backoff")
	ErrEmptyFetch  = errors.New("registry fetch returned no entries")
	ErrNilSource   = errors.New("registry source is nil")
)

const (
	defaultTTL        = 30 * time.Minute
	backoffBase       = 30 * time.Second
	backoffMultiplier = 2.0
	backoffCeiling    = 15 * time.Minute
)

// Source is anything that can enumerate the tradable set of a venue.
type Source interface {
	FetchReserves(ctx context.Context) ([]types.Reserve, error)
	FetchPools(ctx context.Context) ([]types.PoolMeta, error)
}

// Registry caches the discovered reserve and pool tables with a TTL. On fetch
// failure it serves the last good generation (or the built-in seed) and gates
// further live attempts behind an exponential backoff so a flapping venue API
// cannot stall rebalance cycles.
type Registry struct {
	mu sync.RWMutex

	source Source
	ttl    time.Duration

	reserves   []types.Reserve
	pools      []types.PoolMeta
	generation uint64
	fetchedAt  time.Time
	seeded     bool

	failures    int
	nextAttempt time.Time
	gate        *backoff.ExponentialBackOff

	log zerolog.Logger
}

// New builds a registry pre-populated with the seed tables so callers always
// have something to resolve symbols against, even before the first refresh.
func New(source Source) *Registry {
	gate := backoff.NewExponentialBackOff()
	gate.InitialInterval = backoffBase
	gate.Multiplier = backoffMultiplier
	gate.MaxInterval = backoffCeiling
	gate.RandomizationFactor = 0

	return &Registry{
		source:   source,
		ttl:      defaultTTL,
		reserves: seedReserves(),
		pools:    seedPools(),
		seeded:   true,
		gate:     gate,
		log:      logger.GetForComponent("registry"),
	}
}

// Generation returns the monotonically increasing cache generation. The seed
// tables are generation zero.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Seeded reports whether the registry is still serving the built-in seed
// tables rather than live-discovered data. Callers must treat seeded data as
// advisory, never authoritative for safety caps.
func (r *Registry) Seeded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seeded
}

// Reserves returns the current reserve table, refreshing first when the TTL
// has lapsed. A failed refresh is logged and the last good table returned;
// callers never see an error from staleness alone.
func (r *Registry) Reserves(ctx context.Context) []types.Reserve {
	if err := r.Refresh(ctx, false); err != nil {
		r.log.Warn().Err(err).Msg("Serving stale reserve table")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Reserve, len(r.reserves))
	copy(out, r.reserves)
	return out
}

// Pools returns the current pool table with the same staleness semantics as
// Reserves.
func (r *Registry) Pools(ctx context.Context) []types.PoolMeta {
	if err := r.Refresh(ctx, false); err != nil {
		r.log.Warn().Err(err).Msg("Serving stale pool table")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.PoolMeta, len(r.pools))
	copy(out, r.pools)
	return out
}

// Refresh fetches both tables from the source when the cache is stale or
// force is set. On success the generation advances and the failure gate
// resets. On failure the gate pushes the next permitted attempt out
// exponentially and the cached tables are left untouched.
func (r *Registry) Refresh(ctx context.Context, force bool) error {
	if r.source == nil {
		return ErrNilSource
	}

	r.mu.Lock()
	fresh := !force && !r.fetchedAt.IsZero() && time.Since(r.fetchedAt) < r.ttl
	gated := !force && !r.nextAttempt.IsZero() && time.Now().Before(r.nextAttempt)
	r.mu.Unlock()

	if fresh {
		return nil
	}
	if gated {
		return ErrBackoffGate
	}

	reserves, rErr := r.source.FetchReserves(ctx)
	pools, pErr := r.source.FetchPools(ctx)
	if err := errors.Join(rErr, pErr); err != nil {
		r.recordFailure(err)
		return errors.Join(ErrFetchFailed, err)
	}
	if len(reserves) == 0 && len(pools) == 0 {
		r.recordFailure(ErrEmptyFetch)
		return ErrEmptyFetch
	}

	r.mu.Lock()
	r.reserves = reserves
	r.pools = pools
	r.generation++
	r.fetchedAt = time.Now()
	r.seeded = false
	r.failures = 0
	r.nextAttempt = time.Time{}
	r.gate.Reset()
	gen := r.generation
	r.mu.Unlock()

	r.log.Info().
		Uint64("generation", gen).
		Int("reserves", len(reserves)).
		Int("pools", len(pools)).
		Msg("Registry refreshed")
	return nil
}

func (r *Registry) recordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	delay := r.gate.NextBackOff()
	r.nextAttempt = time.Now().Add(delay)

	r.log.Warn().
		Err(err).
		Int("consecutiveFailures", r.failures).
		Dur("nextAttemptIn", delay).
		Msg("Registry fetch failed, backing off")
}

// ResolveSymbol maps a raw token address to its registry symbol and decimals.
// Unknown addresses degrade to a short address fragment with 18 decimals so a
// missing mapping never aborts a scan.
func (r *Registry) ResolveSymbol(address string) (string, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, res := range r.reserves {
		if equalAddress(res.Address, address) {
			return res.Symbol, res.Decimals
		}
	}
	return addressFragment(address), 18
}

// ReserveBySymbol looks up a reserve by its symbol.
func (r *Registry) ReserveBySymbol(symbol string) (types.Reserve, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, res := range r.reserves {
		if res.Symbol == symbol {
			return res, true
		}
	}
	return types.Reserve{}, false
}

// PoolByKey looks up a pool by its pair key.
func (r *Registry) PoolByKey(key types.PoolKey) (types.PoolMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.pools {
		if p.Key == key {
			return p, true
		}
	}
	return types.PoolMeta{}, false
}
