package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringWith(capacity int, versions ...uint64) *replayRing {
	r := newReplayRing(capacity)
	for _, v := range versions {
		r.push(Envelope{Version: v, Policy: ToAllAtTable})
	}
	return r
}

func TestReplayRingSince(t *testing.T) {
	t.Run("empty ring needs nothing", func(t *testing.T) {
		r := newReplayRing(8)
		envs, ok := r.since(0, "alice")
		assert.True(t, ok)
		assert.Empty(t, envs)
	})

	t.Run("returns everything after the seen version", func(t *testing.T) {
		r := ringWith(8, 1, 2, 3, 4, 5)
		envs, ok := r.since(3, "alice")
		require.True(t, ok)
		require.Len(t, envs, 2)
		assert.EqualValues(t, 4, envs[0].Version)
		assert.EqualValues(t, 5, envs[1].Version)
	})

	t.Run("client at the tip gets nothing", func(t *testing.T) {
		r := ringWith(8, 1, 2, 3)
		envs, ok := r.since(3, "alice")
		assert.True(t, ok)
		assert.Empty(t, envs)
	})

	t.Run("gap before the ring forces a snapshot", func(t *testing.T) {
		r := newReplayRing(4)
		for v := uint64(1); v <= 10; v++ {
			r.push(Envelope{Version: v, Policy: ToAllAtTable})
		}
		// Oldest retained is 7; version 3 predates the ring.
		_, ok := r.since(3, "alice")
		assert.False(t, ok)

		envs, ok := r.since(8, "alice")
		require.True(t, ok)
		require.Len(t, envs, 2)
		assert.EqualValues(t, 9, envs[0].Version)
	})

	t.Run("unversioned envelopes are never retained", func(t *testing.T) {
		r := newReplayRing(4)
		r.push(Envelope{Version: 0, Policy: ToPlayer, To: "alice"})
		assert.EqualValues(t, 0, r.oldest())
	})
}

func TestReplayRingMasksByPolicy(t *testing.T) {
	r := newReplayRing(8)
	r.push(Envelope{Version: 1, Policy: ToAllAtTable})
	r.push(Envelope{Version: 2, Policy: ToPlayer, To: "alice"})
	r.push(Envelope{Version: 3, Policy: ToPlayer, To: "bob"})
	r.push(Envelope{Version: 4, Policy: ToAllExcept, To: "alice"})

	envs, ok := r.since(0, "alice")
	require.True(t, ok)
	require.Len(t, envs, 2)
	assert.EqualValues(t, 1, envs[0].Version)
	assert.EqualValues(t, 2, envs[1].Version)

	envs, ok = r.since(0, "bob")
	require.True(t, ok)
	require.Len(t, envs, 3)
	assert.EqualValues(t, 3, envs[1].Version)
	assert.EqualValues(t, 4, envs[2].Version)
}
