package token

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flatTaxHook struct {
	collector uuid.UUID
}

func (h *flatTaxHook) PlanTransfer(from, to uuid.UUID, amount *uint256.Int) (TransferPlan, error) {
	// 10% fee, half burned, half redirected.
	fee := new(uint256.Int).Div(amount, uint256.NewInt(10))
	burn := new(uint256.Int).Div(fee, uint256.NewInt(2))
	redirect := new(uint256.Int).Sub(fee, burn)
	return TransferPlan{
		Net:        new(uint256.Int).Sub(amount, fee),
		Burn:       burn,
		Redirect:   redirect,
		RedirectTo: h.collector,
	}, nil
}

type brokenHook struct{}

func (brokenHook) PlanTransfer(from, to uuid.UUID, amount *uint256.Int) (TransferPlan, error) {
	// Drops one unit; the ledger must refuse to apply it.
	return TransferPlan{
		Net:      new(uint256.Int).Sub(amount, uint256.NewInt(1)),
		Burn:     uint256.NewInt(0),
		Redirect: uint256.NewInt(0),
	}, nil
}

func TestMintAndBurn(t *testing.T) {
	alice := uuid.New()

	t.Run("should track supply and lifetime counters", func(t *testing.T) {
		l := NewLedger("vault-shares")

		require.NoError(t, l.Mint(alice, uint256.NewInt(1000)))
		assert.Equal(t, uint64(1000), l.BalanceOf(alice).Uint64())
		assert.Equal(t, uint64(1000), l.TotalSupply().Uint64())
		assert.Equal(t, uint64(1000), l.TotalMinted().Uint64())

		require.NoError(t, l.Burn(alice, uint256.NewInt(400)))
		assert.Equal(t, uint64(600), l.BalanceOf(alice).Uint64())
		assert.Equal(t, uint64(600), l.TotalSupply().Uint64())
		assert.Equal(t, uint64(1000), l.TotalMinted().Uint64(), "minted counter never decreases")
		assert.Equal(t, uint64(400), l.TotalBurned().Uint64())
	})

	t.Run("should reject burning more than held", func(t *testing.T) {
		l := NewLedger("vault-shares")
		require.NoError(t, l.Mint(alice, uint256.NewInt(10)))

		err := l.Burn(alice, uint256.NewInt(11))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("should reject null endpoints and zero amounts", func(t *testing.T) {
		l := NewLedger("vault-shares")

		assert.ErrorIs(t, l.Mint(uuid.Nil, uint256.NewInt(1)), ErrZeroAddress)
		assert.ErrorIs(t, l.Mint(alice, uint256.NewInt(0)), ErrZeroAmount)
		assert.ErrorIs(t, l.Burn(uuid.Nil, uint256.NewInt(1)), ErrZeroAddress)
	})
}

func TestTransfer(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()

	t.Run("should move full amount without a hook", func(t *testing.T) {
		l := NewLedger("backing")
		require.NoError(t, l.Mint(alice, uint256.NewInt(500)))

		plan, err := l.Transfer(alice, bob, uint256.NewInt(200))
		require.NoError(t, err)

		assert.Equal(t, uint64(200), plan.Net.Uint64())
		assert.True(t, plan.Burn.IsZero())
		assert.Equal(t, uint64(300), l.BalanceOf(alice).Uint64())
		assert.Equal(t, uint64(200), l.BalanceOf(bob).Uint64())
	})

	t.Run("should apply the hook plan in three legs", func(t *testing.T) {
		collector := uuid.New()
		l := NewLedger("shares")
		l.SetHook(&flatTaxHook{collector: collector})
		require.NoError(t, l.Mint(alice, uint256.NewInt(1000)))

		plan, err := l.Transfer(alice, bob, uint256.NewInt(1000))
		require.NoError(t, err)

		assert.Equal(t, uint64(900), plan.Net.Uint64())
		assert.Equal(t, uint64(50), plan.Burn.Uint64())
		assert.Equal(t, uint64(50), plan.Redirect.Uint64())

		assert.True(t, l.BalanceOf(alice).IsZero())
		assert.Equal(t, uint64(900), l.BalanceOf(bob).Uint64())
		assert.Equal(t, uint64(50), l.BalanceOf(collector).Uint64())
		assert.Equal(t, uint64(950), l.TotalSupply().Uint64())
		assert.Equal(t, uint64(50), l.TotalBurned().Uint64())
	})

	t.Run("should refuse a plan that does not conserve the amount", func(t *testing.T) {
		l := NewLedger("shares")
		l.SetHook(brokenHook{})
		require.NoError(t, l.Mint(alice, uint256.NewInt(100)))

		_, err := l.Transfer(alice, bob, uint256.NewInt(100))
		assert.Error(t, err)
		assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64(), "failed transfer must leave no partial effects")
	})

	t.Run("should reject insufficient balance", func(t *testing.T) {
		l := NewLedger("backing")
		require.NoError(t, l.Mint(alice, uint256.NewInt(10)))

		_, err := l.Transfer(alice, bob, uint256.NewInt(11))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

func TestAllowances(t *testing.T) {
	owner := uuid.New()
	spender := uuid.New()
	sink := uuid.New()

	t.Run("should consume allowance on transferFrom", func(t *testing.T) {
		l := NewLedger("backing")
		require.NoError(t, l.Mint(owner, uint256.NewInt(1000)))
		require.NoError(t, l.Approve(owner, spender, uint256.NewInt(600)))

		_, err := l.TransferFrom(spender, owner, sink, uint256.NewInt(400))
		require.NoError(t, err)

		assert.Equal(t, uint64(200), l.Allowance(owner, spender).Uint64())
		assert.Equal(t, uint64(400), l.BalanceOf(sink).Uint64())
	})

	t.Run("should reject transferFrom beyond allowance", func(t *testing.T) {
		l := NewLedger("backing")
		require.NoError(t, l.Mint(owner, uint256.NewInt(1000)))
		require.NoError(t, l.Approve(owner, spender, uint256.NewInt(100)))

		_, err := l.TransferFrom(spender, owner, sink, uint256.NewInt(101))
		assert.ErrorIs(t, err, ErrInsufficientAllowance)
	})

	t.Run("should report zero allowance when none set", func(t *testing.T) {
		l := NewLedger("backing")
		assert.True(t, l.Allowance(owner, spender).IsZero())
	})
}
