package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkmp/playback/pkg/types"
)

func passage() *types.Passage {
	return &types.Passage{FilePath: "x.wav"}
}

func TestEnqueueAssignsLowestFreeChainIndex(t *testing.T) {
	m := New(3)

	a := m.Enqueue(passage())
	b := m.Enqueue(passage())
	c := m.Enqueue(passage())

	assert.Equal(t, 0, a.ChainIndex)
	assert.Equal(t, 1, b.ChainIndex)
	assert.Equal(t, 2, c.ChainIndex)

	// No chains left: the fourth entry waits without one.
	d := m.Enqueue(passage())
	assert.Equal(t, unassigned, d.ChainIndex)
}

func TestRemoveReleasesChainAndPromotesWaitingEntry(t *testing.T) {
	m := New(1)

	a := m.Enqueue(passage())
	require.Equal(t, 0, a.ChainIndex)

	b := m.Enqueue(passage())
	require.Equal(t, unassigned, b.ChainIndex)

	_, err := m.Remove(a.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, b.ChainIndex, "b should be promoted onto the freed chain")
}

func TestAdvanceReleasesFrontChainWithoutDisturbingOthers(t *testing.T) {
	m := New(2)

	a := m.Enqueue(passage())
	b := m.Enqueue(passage())
	require.Equal(t, 0, a.ChainIndex)
	require.Equal(t, 1, b.ChainIndex)

	removed, err := m.Advance()
	require.NoError(t, err)
	assert.Equal(t, a.ID, removed.ID)

	// b's chain index must not have changed while the queue advanced
	// around it (spec.md §4.7 stability guarantee).
	got, ok := m.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.ChainIndex)

	pos, ok := m.Position(b.ID)
	require.True(t, ok)
	assert.Equal(t, 0, pos, "b is now at queue position 0, independent of its chain index")
}

func TestChainStabilityAcrossMultipleAdvances(t *testing.T) {
	m := New(3)

	ids := make([]*Entry, 4)
	for i := range ids {
		ids[i] = m.Enqueue(passage())
	}
	// First three get chains 0,1,2; the fourth waits.
	require.Equal(t, unassigned, ids[3].ChainIndex)

	_, err := m.Advance() // removes ids[0], frees chain 0
	require.NoError(t, err)

	got, ok := m.Get(ids[3].ID)
	require.True(t, ok)
	assert.Equal(t, 0, got.ChainIndex, "waiting entry should be promoted onto the lowest freed index")

	got1, ok := m.Get(ids[1].ID)
	require.True(t, ok)
	assert.Equal(t, 1, got1.ChainIndex, "entry already holding chain 1 is undisturbed")

	_, err = m.Advance() // removes ids[1], frees chain 1; nothing is waiting
	require.NoError(t, err)

	got2, ok := m.Get(ids[2].ID)
	require.True(t, ok)
	assert.Equal(t, 2, got2.ChainIndex, "entry holding chain 2 is undisturbed by the second advance")

	got3, ok := m.Get(ids[3].ID)
	require.True(t, ok)
	assert.Equal(t, 0, got3.ChainIndex, "promoted entry keeps chain 0")
}

func TestClearResetsToFreshState(t *testing.T) {
	m := New(2)
	m.Enqueue(passage())
	m.Enqueue(passage())
	require.Equal(t, 2, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())

	// Enqueue-after-clear behaves exactly as on a fresh manager.
	e := m.Enqueue(passage())
	assert.Equal(t, 0, e.ChainIndex)
}

func TestEnqueueThenRemoveIsObservationallyEquivalentToNoop(t *testing.T) {
	m := New(2)
	before := m.Len()

	e := m.Enqueue(passage())
	_, err := m.Remove(e.ID)
	require.NoError(t, err)

	assert.Equal(t, before, m.Len())
	_, ok := m.Get(e.ID)
	assert.False(t, ok)
}

func TestRemoveUnknownEntryErrors(t *testing.T) {
	m := New(1)
	_, err := m.Remove("does-not-exist")
	assert.Error(t, err)
}

func TestUpdateEndpointUpdatesCachedEndTicks(t *testing.T) {
	m := New(1)
	e := m.Enqueue(passage())

	require.NoError(t, m.UpdateEndpoint(e.ID, 123456))

	got, ok := m.Get(e.ID)
	require.True(t, ok)
	assert.EqualValues(t, 123456, got.CachedEndTicks)
}
