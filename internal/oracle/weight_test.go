package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

func TestUpdateWeight(t *testing.T) {
	ctx := context.Background()

	t.Run("should compute supplyB scaled by supplyA", func(t *testing.T) {
		src := &StaticSupplySource{A: uint256.NewInt(4000), B: uint256.NewInt(1000)}
		o := New(src, clockwork.NewFakeClock(), time.Hour, messaging.NopPublisher{})

		w, err := o.UpdateWeight(ctx)
		require.NoError(t, err)

		// 1000 * 1e18 / 4000 = 0.25e18
		expected := uint256.MustFromDecimal("250000000000000000")
		assert.True(t, w.Eq(expected), "got %s", w.Dec())
		assert.True(t, o.Weight().Eq(expected))
	})

	t.Run("should reject a second update inside the cooldown", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		src := &StaticSupplySource{A: uint256.NewInt(2), B: uint256.NewInt(1)}
		o := New(src, clock, time.Hour, messaging.NopPublisher{})

		first, err := o.UpdateWeight(ctx)
		require.NoError(t, err)

		src.B = uint256.NewInt(2)
		_, err = o.UpdateWeight(ctx)
		assert.ErrorIs(t, err, ErrCooldownActive)
		assert.True(t, o.Weight().Eq(first), "rejected update must leave weight unchanged")
	})

	t.Run("should allow an update once the cooldown elapses", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		src := &StaticSupplySource{A: uint256.NewInt(2), B: uint256.NewInt(1)}
		o := New(src, clock, time.Hour, messaging.NopPublisher{})

		_, err := o.UpdateWeight(ctx)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		src.B = uint256.NewInt(4)
		w, err := o.UpdateWeight(ctx)
		require.NoError(t, err)
		assert.True(t, w.Eq(new(uint256.Int).Mul(Scale, uint256.NewInt(2))))
	})

	t.Run("should reject zero source supplies", func(t *testing.T) {
		o := New(&StaticSupplySource{A: uint256.NewInt(0), B: uint256.NewInt(1)}, clockwork.NewFakeClock(), time.Hour, nil)
		_, err := o.UpdateWeight(ctx)
		assert.ErrorIs(t, err, ErrZeroSourceSupply)

		o = New(&StaticSupplySource{A: uint256.NewInt(1), B: uint256.NewInt(0)}, clockwork.NewFakeClock(), time.Hour, nil)
		_, err = o.UpdateWeight(ctx)
		assert.ErrorIs(t, err, ErrZeroSourceSupply)
	})

	t.Run("should reject a weight that truncates to zero", func(t *testing.T) {
		// supplyA > supplyB * 1e18 makes the ratio round down to nothing.
		huge := new(uint256.Int).Mul(Scale, Scale)
		o := New(&StaticSupplySource{A: huge, B: uint256.NewInt(1)}, clockwork.NewFakeClock(), time.Hour, nil)

		_, err := o.UpdateWeight(ctx)
		assert.ErrorIs(t, err, ErrDegenerateWeight)
	})

	t.Run("should start at weight one before any update", func(t *testing.T) {
		o := New(&StaticSupplySource{}, clockwork.NewFakeClock(), time.Hour, nil)
		assert.True(t, o.Weight().Eq(Scale))
		assert.True(t, o.LastUpdate().IsZero())
		assert.Equal(t, time.Duration(0), o.NextUpdateIn())
	})

	t.Run("should report remaining cooldown", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		o := New(&StaticSupplySource{A: uint256.NewInt(1), B: uint256.NewInt(1)}, clock, time.Hour, nil)

		_, err := o.UpdateWeight(ctx)
		require.NoError(t, err)

		clock.Advance(15 * time.Minute)
		assert.Equal(t, 45*time.Minute, o.NextUpdateIn())
	})
}
