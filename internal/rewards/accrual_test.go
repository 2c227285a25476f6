package rewards

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/vaultengine/internal/oracle"
)

type stubBalances struct {
	balances map[uuid.UUID]uint64
	supply   uint64
}

func (s *stubBalances) BalanceOf(account uuid.UUID) *uint256.Int {
	return uint256.NewInt(s.balances[account])
}

func (s *stubBalances) TotalSupply() *uint256.Int {
	return uint256.NewInt(s.supply)
}

type stubWeight struct {
	w *uint256.Int
}

func (s *stubWeight) Weight() *uint256.Int { return s.w.Clone() }

func unitWeight() *stubWeight { return &stubWeight{w: oracle.Scale.Clone()} }

func TestAccrue(t *testing.T) {
	holder := uuid.New()

	t.Run("should advance the accumulator by amount scaled over eligible supply", func(t *testing.T) {
		a := New(
			&stubBalances{balances: map[uuid.UUID]uint64{holder: 200}, supply: 1000},
			&stubBalances{balances: map[uuid.UUID]uint64{}},
			unitWeight(),
		)

		attributed := a.Accrue(uint256.NewInt(100))
		require.True(t, attributed)

		// 100 * 1e18 / 1000
		expected := uint256.MustFromDecimal("100000000000000000")
		assert.True(t, a.Accumulator().Eq(expected), "got %s", a.Accumulator().Dec())

		assert.Equal(t, uint64(20), a.Earned(holder).Uint64())
	})

	t.Run("should not attribute when total eligible supply is zero", func(t *testing.T) {
		a := New(&stubBalances{}, &stubBalances{}, unitWeight())

		attributed := a.Accrue(uint256.NewInt(100))
		assert.False(t, attributed)
		assert.True(t, a.Accumulator().IsZero())
	})

	t.Run("accumulator should never decrease", func(t *testing.T) {
		a := New(&stubBalances{supply: 500}, &stubBalances{}, unitWeight())

		prev := a.Accumulator()
		for _, amt := range []uint64{1, 1000, 3, 0x7fffffff, 7} {
			a.Accrue(uint256.NewInt(amt))
			cur := a.Accumulator()
			assert.False(t, cur.Lt(prev))
			prev = cur
		}
	})
}

func TestWeightedEligibility(t *testing.T) {
	holder := uuid.New()

	t.Run("should scale token B balances by the weight", func(t *testing.T) {
		// weight 0.5: 400 B-shares count as 200.
		half := new(uint256.Int).Div(oracle.Scale, uint256.NewInt(2))
		a := New(
			&stubBalances{balances: map[uuid.UUID]uint64{holder: 100}, supply: 100},
			&stubBalances{balances: map[uuid.UUID]uint64{holder: 400}, supply: 400},
			&stubWeight{w: half},
		)

		assert.Equal(t, uint64(300), a.EligibleBalance(holder).Uint64())
		assert.Equal(t, uint64(300), a.TotalEligibleSupply().Uint64())
	})

	t.Run("eligible balance should be read live, not cached", func(t *testing.T) {
		src := &stubBalances{balances: map[uuid.UUID]uint64{holder: 100}, supply: 100}
		a := New(src, &stubBalances{}, unitWeight())

		a.Accrue(uint256.NewInt(50))
		src.balances[holder] = 0 // holder transferred everything away

		assert.Equal(t, uint64(0), a.Earned(holder).Uint64())
	})
}

func TestSettlement(t *testing.T) {
	holder := uuid.New()

	t.Run("settling should freeze reward against later balance changes", func(t *testing.T) {
		src := &stubBalances{balances: map[uuid.UUID]uint64{holder: 200}, supply: 1000}
		a := New(src, &stubBalances{}, unitWeight())

		a.Accrue(uint256.NewInt(100))
		a.Settle(holder)
		src.balances[holder] = 0

		assert.Equal(t, uint64(20), a.Earned(holder).Uint64())
	})

	t.Run("taking settled reward twice should yield zero the second time", func(t *testing.T) {
		a := New(
			&stubBalances{balances: map[uuid.UUID]uint64{holder: 200}, supply: 1000},
			&stubBalances{},
			unitWeight(),
		)

		a.Accrue(uint256.NewInt(100))

		first := a.TakeSettled(holder)
		assert.Equal(t, uint64(20), first.Uint64())

		second := a.TakeSettled(holder)
		assert.True(t, second.IsZero())
	})

	t.Run("late joiner should not earn from deposits before their checkpoint", func(t *testing.T) {
		early := uuid.New()
		late := uuid.New()
		src := &stubBalances{balances: map[uuid.UUID]uint64{early: 1000}, supply: 1000}
		a := New(src, &stubBalances{}, unitWeight())

		a.Accrue(uint256.NewInt(100))

		// Settlement runs before the balance change, exactly what a vault
		// does before minting to a new holder.
		a.Settle(late)
		src.balances[late] = 500
		src.supply = 1500

		a.Accrue(uint256.NewInt(150))

		// early: 100 + 1000/1500 * 150 = 200; late: 500/1500 * 150 = 50
		assert.Equal(t, uint64(200), a.Earned(early).Uint64())
		assert.Equal(t, uint64(50), a.Earned(late).Uint64())
	})
}
