package numalloc

import (
	"errors"
	"testing"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateIsMonotonic(t *testing.T) {
	a := New("pid", 0, 8)
	for want := uint32(0); want < 4; want++ {
		got, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Freed numbers are not reused until the counter wraps.
	require.True(t, a.Free(1))
	got, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got)
}

func TestOffsetSpace(t *testing.T) {
	a := New("handles", 100, 3)
	for _, want := range []uint32{100, 101, 102} {
		got, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, a.InUse(101))
	assert.False(t, a.InUse(99))
	assert.False(t, a.InUse(103))
	assert.False(t, a.Free(5))
}

func TestExhaustionReportedExactlyWhenFull(t *testing.T) {
	const size = 16
	a := New("tid", 0, size)
	seen := map[uint32]bool{}
	for i := 0; i < size; i++ {
		n, err := a.Allocate()
		require.NoError(t, err, "allocation %d", i)
		require.False(t, seen[n], "number %d handed out twice", n)
		seen[n] = true
	}

	_, err := a.Allocate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ENOMEM))
	assert.Equal(t, size, a.Len())
}

func TestSingleFreeSlotIsFoundAfterWrap(t *testing.T) {
	a := New("pid", 0, 5)
	for i := 0; i < 5; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}

	// The only free number sits right behind the counter position, so the
	// scan has to wrap around to reach it.
	require.True(t, a.Free(4))
	n, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	require.True(t, a.Free(0))
	n, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	_, err = a.Allocate()
	assert.Error(t, err)
}

func TestFreeTwice(t *testing.T) {
	a := New("pid", 0, 2)
	n, err := a.Allocate()
	require.NoError(t, err)
	assert.True(t, a.Free(n))
	assert.False(t, a.Free(n))
}
