/*

Rebalance decision engine. A pure function of the portfolio snapshot, the
registry's reserve table and the risk policy: it ranks what should change and
why, and never moves capital itself. The scheduler decides whether to act.

*/

package engine

import (
	"fmt"
	"sort"

	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

// Analyse produces ranked suggestions for the snapshot. Deterministic for a
// given input; no I/O, no clock, no venue calls.
func Analyse(snapshot types.PortfolioSnapshot, reserves []types.Reserve, policy types.RiskPolicy) []types.Suggestion {
	var suggestions []types.Suggestion

	suggestions = append(suggestions, cashReserveCheck(snapshot, policy)...)
	suggestions = append(suggestions, idleStableCheck(snapshot, reserves, policy)...)
	suggestions = append(suggestions, gasTopUpCheck(snapshot, policy)...)
	suggestions = append(suggestions, idleNativeCheck(snapshot, reserves, policy)...)
	suggestions = append(suggestions, concentrationCheck(snapshot, policy)...)

	sort.SliceStable(suggestions, func(i, j int) bool {
		return priorityRank(suggestions[i].Priority) < priorityRank(suggestions[j].Priority)
	})
	return suggestions
}

func priorityRank(p types.Priority) int {
	switch p {
	case types.PriorityHigh:
		return 0
	case types.PriorityMedium:
		return 1
	default:
		return 2
	}
}

// cashReserveCheck flags a cash reserve below the floor. High priority: a
// portfolio that cannot pay for its own exits is one bad cycle from being
// stuck.
func cashReserveCheck(snapshot types.PortfolioSnapshot, policy types.RiskPolicy) []types.Suggestion {
	if snapshot.TotalPortfolioUSD <= 0 || snapshot.CashReservePct >= policy.CashReserveFloorPct {
		return nil
	}

	shortfallUSD := policy.CashReserveFloorPct/100.0*snapshot.TotalPortfolioUSD - snapshot.TotalWalletUSD
	if shortfallUSD <= 0 {
		return nil
	}
	return []types.Suggestion{{
		Priority:  types.PriorityHigh,
		Kind:      types.SuggestReduceDeployed,
		AmountUSD: shortfallUSD,
		Reason: fmt.Sprintf("cash reserve %.1f%% is below the %.1f%% floor; free up ~$%.0f of deployed capital",
			snapshot.CashReservePct, policy.CashReserveFloorPct, shortfallUSD),
	}}
}

// idleStableCheck suggests depositing half of an idle stable balance into a
// lending venue with positive yield, as long as the lending allocation stays
// under its cap. Half, not all: the rest remains working capital.
func idleStableCheck(snapshot types.PortfolioSnapshot, reserves []types.Reserve, policy types.RiskPolicy) []types.Suggestion {
	bestAPY := bestStableSupplyAPY(reserves, policy)
	if bestAPY <= 0 {
		return nil
	}

	lendingUSD := allocatedUSD(snapshot, types.StrategyLending)
	if lendingUSD >= policy.LendingAllocationCapUSD {
		return nil
	}

	var out []types.Suggestion
	for _, balance := range snapshot.Balances {
		if balance.StableUSD <= policy.IdleStableThresholdUSD {
			continue
		}
		depositUSD := balance.StableUSD / 2.0
		if lendingUSD+depositUSD > policy.LendingAllocationCapUSD {
			depositUSD = policy.LendingAllocationCapUSD - lendingUSD
		}
		if depositUSD <= 0 {
			continue
		}
		out = append(out, types.Suggestion{
			Priority:  types.PriorityMedium,
			Kind:      types.SuggestLendingDeposit,
			Chain:     balance.Chain,
			Venue:     "lending",
			AmountUSD: depositUSD,
			Reason: fmt.Sprintf("$%.0f idle stable on %s while lending yields %.2f%%; deposit ~$%.0f",
				balance.StableUSD, balance.Chain, bestAPY, depositUSD),
		})
		lendingUSD += depositUSD
	}
	return out
}

// gasTopUpCheck flags chains whose native balance cannot cover gas while the
// portfolio still has capacity to deploy there.
func gasTopUpCheck(snapshot types.PortfolioSnapshot, policy types.RiskPolicy) []types.Suggestion {
	unusedCapacityUSD := snapshot.TotalWalletUSD
	if unusedCapacityUSD <= policy.GasReserveFloorUSD {
		return nil
	}

	var out []types.Suggestion
	for _, balance := range snapshot.Balances {
		if balance.NativeUSD >= policy.GasReserveFloorUSD {
			continue
		}
		out = append(out, types.Suggestion{
			Priority:  types.PriorityMedium,
			Kind:      types.SuggestBridgeTopUp,
			Chain:     balance.Chain,
			AmountUSD: policy.GasReserveFloorUSD,
			Reason: fmt.Sprintf("gas balance on %s is $%.2f, below the $%.0f working floor",
				balance.Chain, balance.NativeUSD, policy.GasReserveFloorUSD),
		})
	}
	return out
}

// idleNativeCheck suggests staking idle native balance above the gas reserve
// when a staking reserve is available and underused.
func idleNativeCheck(snapshot types.PortfolioSnapshot, reserves []types.Reserve, policy types.RiskPolicy) []types.Suggestion {
	staking, ok := stakingReserve(reserves)
	if !ok {
		return nil
	}

	stakedUSD := allocatedAssetUSD(snapshot, staking.Symbol)
	if snapshot.TotalPortfolioUSD > 0 &&
		stakedUSD/snapshot.TotalPortfolioUSD*100.0 >= policy.MaxAssetAllocationPct {
		return nil
	}

	var out []types.Suggestion
	for _, balance := range snapshot.Balances {
		idleUSD := balance.NativeUSD - policy.GasReserveFloorUSD
		if idleUSD <= policy.IdleNativeThresholdUSD {
			continue
		}
		out = append(out, types.Suggestion{
			Priority:  types.PriorityLow,
			Kind:      types.SuggestStakeNative,
			Chain:     balance.Chain,
			Venue:     staking.Symbol,
			AmountUSD: idleUSD,
			Reason: fmt.Sprintf("$%.0f idle native on %s could earn %.2f%% staked as %s",
				idleUSD, balance.Chain, staking.StakingAPY, staking.Symbol),
		})
	}
	return out
}

// concentrationCheck flags a single strategy holding more than the ceiling
// share of the portfolio.
func concentrationCheck(snapshot types.PortfolioSnapshot, policy types.RiskPolicy) []types.Suggestion {
	if snapshot.TopConcentrationPct <= policy.MaxStrategyAllocationPct {
		return nil
	}
	return []types.Suggestion{{
		Priority: types.PriorityLow,
		Kind:     types.SuggestDiversify,
		Reason: fmt.Sprintf("top strategy holds %.1f%% of the portfolio, above the %.1f%% ceiling",
			snapshot.TopConcentrationPct, policy.MaxStrategyAllocationPct),
	}}
}

func bestStableSupplyAPY(reserves []types.Reserve, policy types.RiskPolicy) float64 {
	best := 0.0
	for _, reserve := range reserves {
		if reserve.IsStakingToken {
			continue
		}
		if reserve.SupplyAPY >= policy.MinSupplyAPY && reserve.SupplyAPY > best {
			best = reserve.SupplyAPY
		}
	}
	return best
}

func stakingReserve(reserves []types.Reserve) (types.Reserve, bool) {
	for _, reserve := range reserves {
		if reserve.IsStakingToken && reserve.StakingAPY > 0 {
			return reserve, true
		}
	}
	return types.Reserve{}, false
}

func allocatedUSD(snapshot types.PortfolioSnapshot, kind types.StrategyKind) float64 {
	total := 0.0
	for _, alloc := range snapshot.Allocations {
		if alloc.Kind == kind {
			total += alloc.ValueUSD
		}
	}
	return total
}

func allocatedAssetUSD(snapshot types.PortfolioSnapshot, symbol string) float64 {
	total := 0.0
	for _, balance := range snapshot.Balances {
		for _, staked := range balance.StakedTokens {
			if staked.Symbol == symbol {
				total += staked.ValueUSD
			}
		}
	}
	return total
}
