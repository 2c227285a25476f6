package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	t.Run("should acquire and release", func(t *testing.T) {
		var g Guard

		release, err := g.Acquire()
		require.NoError(t, err)
		assert.True(t, g.Held())

		release()
		assert.False(t, g.Held())
	})

	t.Run("should reject reentrant acquisition", func(t *testing.T) {
		var g Guard

		release, err := g.Acquire()
		require.NoError(t, err)
		defer release()

		_, err = g.Acquire()
		assert.ErrorIs(t, err, ErrReentrantCall)
	})

	t.Run("should allow acquisition again after release", func(t *testing.T) {
		var g Guard

		release, err := g.Acquire()
		require.NoError(t, err)
		release()

		release, err = g.Acquire()
		require.NoError(t, err)
		release()
	})

	t.Run("should release on panic when deferred", func(t *testing.T) {
		var g Guard

		func() {
			defer func() { _ = recover() }()
			release, err := g.Acquire()
			require.NoError(t, err)
			defer release()
			panic("entry point failure")
		}()

		assert.False(t, g.Held())
	})
}
