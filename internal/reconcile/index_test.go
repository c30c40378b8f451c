package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_PutAndLookup(t *testing.T) {
	ix := NewIndex()

	a, err := ix.Put(Change{Kind: KindAddition, Path: "a", Identity: "1"})
	require.NoError(t, err)
	b, err := ix.Put(Change{Kind: KindUpdate, Path: "b"})
	require.NoError(t, err)

	got, ok := ix.ByIdentity("1")
	require.True(t, ok)
	assert.Equal(t, a, got)

	got, ok = ix.ByPath("b")
	require.True(t, ok)
	assert.Equal(t, b, got)

	_, ok = ix.ByIdentity("")
	assert.False(t, ok)
	assert.Equal(t, []int{b}, ix.WithoutIdentity())
	assert.Equal(t, 2, ix.Len())
}

func TestIndex_PutDuplicateIdentity(t *testing.T) {
	ix := NewIndex()
	_, err := ix.Put(Change{Kind: KindDeletion, Path: "a", Identity: "1"})
	require.NoError(t, err)

	_, err = ix.Put(Change{Kind: KindAddition, Path: "b", Identity: "1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestIndex_ReplaceMovesPathEntry(t *testing.T) {
	ix := NewIndex()
	slot, err := ix.Put(Change{Kind: KindDeletion, Path: "a", Identity: "1"})
	require.NoError(t, err)

	require.NoError(t, ix.Replace(slot, fileMove("a", "b")))

	_, ok := ix.ByPath("a")
	assert.False(t, ok)
	got, ok := ix.ByPath("b")
	require.True(t, ok)
	assert.Equal(t, slot, got)

	// The replacement dropped the identity.
	_, ok = ix.ByIdentity("1")
	assert.False(t, ok)
	assert.Equal(t, []int{slot}, ix.WithoutIdentity())
}

func TestIndex_ReplaceAcquiresIdentity(t *testing.T) {
	ix := NewIndex()
	slot, err := ix.Put(Change{Kind: KindUpdate, Path: "f"})
	require.NoError(t, err)
	require.Equal(t, []int{slot}, ix.WithoutIdentity())

	require.NoError(t, ix.Replace(slot, Change{Kind: KindUpdate, Path: "f", Identity: "7"}))

	assert.Empty(t, ix.WithoutIdentity())
	got, ok := ix.ByIdentity("7")
	require.True(t, ok)
	assert.Equal(t, slot, got)
}

func TestIndex_ReplaceRejectsForeignIdentity(t *testing.T) {
	ix := NewIndex()
	_, err := ix.Put(Change{Kind: KindAddition, Path: "a", Identity: "1"})
	require.NoError(t, err)
	slot, err := ix.Put(Change{Kind: KindAddition, Path: "b", Identity: "2"})
	require.NoError(t, err)

	err = ix.Replace(slot, Change{Kind: KindAddition, Path: "b", Identity: "1"})
	assert.True(t, IsFatal(err))
}

func TestIndex_RemoveKeepsOrder(t *testing.T) {
	ix := NewIndex()
	for _, p := range []string{"a", "b", "c"} {
		_, err := ix.Put(Change{Kind: KindAddition, Path: p, Identity: Identity(p)})
		require.NoError(t, err)
	}
	slot, ok := ix.ByPath("b")
	require.True(t, ok)

	ix.Remove(slot)
	ix.Remove(slot)

	var paths []string
	for _, c := range ix.Changes() {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"a", "c"}, paths)
	_, ok = ix.ByIdentity("b")
	assert.False(t, ok)
	assert.Equal(t, 2, ix.Len())
}

func TestIndex_ChangesWithoutIdentityFirst(t *testing.T) {
	ix := NewIndex()
	for _, c := range []Change{
		{Kind: KindAddition, Path: "a", Identity: "1"},
		{Kind: KindUpdate, Path: "b"},
		{Kind: KindDeletion, Path: "c", Identity: "3"},
		{Kind: KindUpdate, Path: "d"},
	} {
		_, err := ix.Put(c)
		require.NoError(t, err)
	}

	// Losing its identity sends a change to the back of the list.
	slot, ok := ix.ByPath("a")
	require.True(t, ok)
	require.NoError(t, ix.Replace(slot, Change{Kind: KindUpdate, Path: "a"}))

	assert.Equal(t, []string{"b", "d", "a", "c"}, paths(ix.Changes()))
}

func TestIndex_ChangesAreCopies(t *testing.T) {
	ix := NewIndex()
	slot, err := ix.Put(fileMove("a", "b"))
	require.NoError(t, err)

	out := ix.Changes()
	out[0].Source.Path = "elsewhere"

	assert.Equal(t, "a", ix.At(slot).Source.Path)
}
