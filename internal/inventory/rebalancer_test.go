package inventory

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

func unbalanced(t *testing.T, balances map[string]float64) *Inventory {
	t.Helper()
	inv := New()
	for ex, amt := range balances {
		require.NoError(t, inv.SetBalance(ex, "USDT", amt))
	}
	return inv
}

func TestRebalanceMovesTowardMean(t *testing.T) {
	inv := unbalanced(t, map[string]float64{"a": 300, "b": 0, "c": 0})
	r := NewRebalancer(inv, 1, discardLogger())

	res := r.Rebalance([]string{"a", "b", "c"}, "USDT", 0)
	assert.Equal(t, 2, res.TransfersExecuted)
	assert.InDelta(t, 200, res.QuoteMoved, 1e-9)
	assert.InDelta(t, 100, res.TargetQuote, 1e-9)
	for _, ex := range []string{"a", "b", "c"} {
		assert.InDelta(t, 100, inv.Balance(ex, "USDT"), 1e-9)
	}
}

func TestRebalanceIsIdempotent(t *testing.T) {
	for _, cost := range []float64{0, 1} {
		inv := unbalanced(t, map[string]float64{"a": 1000, "b": 250, "c": 40})
		r := NewRebalancer(inv, 1, discardLogger())

		first := r.Rebalance([]string{"a", "b", "c"}, "USDT", cost)
		require.NotZero(t, first.TransfersExecuted)

		second := r.Rebalance([]string{"a", "b", "c"}, "USDT", cost)
		assert.Zero(t, second.TransfersExecuted, "cost=%v", cost)
		assert.Empty(t, second.Transfers)
	}
}

func TestRebalanceSecondCallAfterCostsIsNoop(t *testing.T) {
	inv := unbalanced(t, map[string]float64{"a": 1133, "b": 1824, "c": 2507})
	r := NewRebalancer(inv, 1, discardLogger())

	first := r.Rebalance([]string{"a", "b", "c"}, "USDT", 2.5)
	require.NotZero(t, first.TransfersExecuted)
	for _, tr := range first.Transfers {
		assert.Greater(t, tr.Amount, tr.Cost, "transfer %+v moves less than it costs", tr)
	}

	second := r.Rebalance([]string{"a", "b", "c"}, "USDT", 2.5)
	assert.Empty(t, second.Transfers)
}

func TestRebalanceIdempotentOnRandomBalances(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	costs := []float64{0, 1, 2.5}
	mins := []float64{0, 1, 10}

	for n := 0; n < 2000; n++ {
		exchanges := make([]string, 2+rng.IntN(4))
		balances := make(map[string]float64, len(exchanges))
		for i := range exchanges {
			exchanges[i] = fmt.Sprintf("ex%d", i)
			if rng.IntN(2) == 0 {
				balances[exchanges[i]] = float64(rng.IntN(5001))
			} else {
				balances[exchanges[i]] = math.Round(rng.Float64()*500000) / 100
			}
		}
		cost := costs[rng.IntN(len(costs))]
		minTransfer := mins[rng.IntN(len(mins))]

		inv := unbalanced(t, balances)
		r := NewRebalancer(inv, minTransfer, discardLogger())
		before := inv.Total("USDT", exchanges)

		first := r.Rebalance(exchanges, "USDT", cost)
		after := inv.Total("USDT", exchanges)
		require.InDelta(t, cost*float64(first.TransfersExecuted), before.Sub(after).InexactFloat64(), 1e-6,
			"balances=%v cost=%v min=%v", balances, cost, minTransfer)
		for _, ex := range exchanges {
			require.GreaterOrEqual(t, inv.Balance(ex, "USDT"), 0.0)
		}

		second := r.Rebalance(exchanges, "USDT", cost)
		require.Empty(t, second.Transfers, "balances=%v cost=%v min=%v", balances, cost, minTransfer)
	}
}

func TestRebalanceConservesValueMinusCosts(t *testing.T) {
	inv := unbalanced(t, map[string]float64{"a": 1000, "b": 250, "c": 40})
	exchanges := []string{"a", "b", "c"}
	before := inv.Total("USDT", exchanges)

	res := NewRebalancer(inv, 1, discardLogger()).Rebalance(exchanges, "USDT", 2.5)
	after := inv.Total("USDT", exchanges)

	assert.InDelta(t, res.CostsApplied, before.Sub(after).InexactFloat64(), 1e-9)
	assert.InDelta(t, 2.5*float64(res.TransfersExecuted), res.CostsApplied, 1e-9)
	assert.True(t, after.LessThanOrEqual(before))
}

func TestRebalanceRespectsHolds(t *testing.T) {
	inv := unbalanced(t, map[string]float64{"a": 300, "b": 0})
	require.NoError(t, inv.Hold("pending", []domain.FundsHold{{Exchange: "a", Asset: "USDT", Amount: 250}}))

	res := NewRebalancer(inv, 1, discardLogger()).Rebalance([]string{"a", "b"}, "USDT", 0)
	require.Equal(t, 1, res.TransfersExecuted)
	assert.InDelta(t, 50, res.QuoteMoved, 1e-9)
	assert.InDelta(t, 250, inv.Balance("a", "USDT"), 1e-9)
	assert.InDelta(t, 0, inv.Available("a", "USDT"), 1e-9)
}

func TestRebalanceOnlyTouchesGivenExchanges(t *testing.T) {
	inv := unbalanced(t, map[string]float64{"a": 200, "b": 0, "off": 5000})
	res := NewRebalancer(inv, 1, discardLogger()).Rebalance([]string{"a", "b"}, "USDT", 0)
	assert.Equal(t, 1, res.TransfersExecuted)
	assert.InDelta(t, 5000, inv.Balance("off", "USDT"), 1e-9)
	assert.InDelta(t, 100, inv.Balance("b", "USDT"), 1e-9)
}

func TestRebalanceSingleExchange(t *testing.T) {
	inv := unbalanced(t, map[string]float64{"a": 200})
	res := NewRebalancer(inv, 1, discardLogger()).Rebalance([]string{"a"}, "USDT", 0)
	assert.Zero(t, res.TransfersExecuted)
	assert.InDelta(t, 200, res.TargetQuote, 1e-9)
}
