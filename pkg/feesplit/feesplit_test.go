package feesplit

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Run("should split 1000 at 450 bps with 60/40 burn split", func(t *testing.T) {
		net, burn, redirect, err := Split(uint256.NewInt(1000), 450, 60)
		require.NoError(t, err)

		assert.Equal(t, uint64(955), net.Uint64())
		assert.Equal(t, uint64(27), burn.Uint64())
		assert.Equal(t, uint64(18), redirect.Uint64())
	})

	t.Run("should apply burn-only split when burn share is 100", func(t *testing.T) {
		net, burn, redirect, err := Split(uint256.NewInt(10000), 50, 100)
		require.NoError(t, err)

		assert.Equal(t, uint64(9950), net.Uint64())
		assert.Equal(t, uint64(50), burn.Uint64())
		assert.True(t, redirect.IsZero())
	})

	t.Run("should truncate fee to zero for dust amounts", func(t *testing.T) {
		net, burn, redirect, err := Split(uint256.NewInt(3), 450, 60)
		require.NoError(t, err)

		assert.Equal(t, uint64(3), net.Uint64())
		assert.True(t, burn.IsZero())
		assert.True(t, redirect.IsZero())
	})

	t.Run("should reject fee rate above 10000 bps", func(t *testing.T) {
		_, _, _, err := Split(uint256.NewInt(1000), 10001, 60)
		assert.Error(t, err)
	})

	t.Run("should reject burn share above 100", func(t *testing.T) {
		_, _, _, err := Split(uint256.NewInt(1000), 450, 101)
		assert.Error(t, err)
	})

	t.Run("should reject nil amount", func(t *testing.T) {
		_, _, _, err := Split(nil, 450, 60)
		assert.Error(t, err)
	})
}

func TestSplitConservation(t *testing.T) {
	t.Run("burn plus redirect plus net should equal amount for every input", func(t *testing.T) {
		amounts := []uint64{1, 2, 3, 7, 99, 100, 101, 999, 1000, 12345, 999999, 1000000000000000000}
		rates := []uint64{0, 1, 50, 450, 9999, 10000}
		shares := []uint64{0, 1, 40, 60, 99, 100}

		for _, a := range amounts {
			for _, r := range rates {
				for _, s := range shares {
					net, burn, redirect, err := Split(uint256.NewInt(a), r, s)
					require.NoError(t, err)

					sum := new(uint256.Int).Add(net, burn)
					sum.Add(sum, redirect)
					assert.Equal(t, a, sum.Uint64(),
						"conservation violated for amount=%d rate=%d share=%d", a, r, s)

					fee := new(uint256.Int).Add(burn, redirect)
					assert.Equal(t, Fee(uint256.NewInt(a), r).Uint64(), fee.Uint64(),
						"fee split drift for amount=%d rate=%d share=%d", a, r, s)
				}
			}
		}
	})
}
