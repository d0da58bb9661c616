package mm

import (
	"errors"
	"math/rand"
	"testing"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = 4096

func newTestAllocator(t *testing.T, base, size uint32, maxOrder int) *FrameAllocator {
	t.Helper()
	a, err := NewFrameAllocator(testPage, maxOrder)
	require.NoError(t, err)
	require.NoError(t, a.AddZone(base, size))
	return a
}

func TestOrderRounding(t *testing.T) {
	a := newTestAllocator(t, 0, 64*testPage, 4)
	tests := []struct {
		size  uint32
		order int
	}{
		{1, 0},
		{testPage, 0},
		{testPage + 1, 1},
		{5000, 1},
		{3 * testPage, 2},
		{16 * testPage, 4},
	}
	for _, tt := range tests {
		order, err := a.Order(tt.size)
		require.NoError(t, err)
		assert.Equal(t, tt.order, order, "size %d", tt.size)
	}

	_, err := a.Order(17 * testPage)
	assert.True(t, errors.Is(err, kerrors.ENOMEM))
}

func TestZoneCarvedIntoLargestBlocks(t *testing.T) {
	// 11 pages with max order 2: blocks of 4, 4, 2 and 1 pages.
	a := newTestAllocator(t, 0x10000, 11*testPage, 2)
	assert.Equal(t, []int{1, 1, 2}, a.FreeBlocks())
	assert.Equal(t, uint64(11*testPage), a.FreeBytes())
	assert.Equal(t, uint64(11*testPage), a.TotalBytes())
}

func TestAllocateSplitsHigherOrder(t *testing.T) {
	a := newTestAllocator(t, 0, 8*testPage, 3)

	f, err := a.Allocate(testPage)
	require.NoError(t, err)
	assert.Equal(t, Frame{Base: 0, Size: testPage}, f)
	// The order 3 block was split into order 2, 1 and 0 halves.
	assert.Equal(t, []int{1, 1, 1, 0}, a.FreeBlocks())

	g, err := a.Allocate(testPage)
	require.NoError(t, err)
	assert.Equal(t, uint32(testPage), g.Base)
}

func TestFiveThousandBytesIsAnOrderOneBlock(t *testing.T) {
	a := newTestAllocator(t, 0x80000000, 4*testPage, 1)

	f, err := a.Allocate(5000)
	require.NoError(t, err)
	assert.Equal(t, uint32(2*testPage), f.Size)
	assert.False(t, a.BlockFree(f.Base, 1))

	// Free the two constituent pages one at a time.
	require.NoError(t, a.Free(Frame{Base: f.Base, Size: testPage}))
	assert.True(t, a.BlockFree(f.Base, 0))
	assert.False(t, a.BlockFree(f.Base, 1))

	require.NoError(t, a.Free(Frame{Base: f.Base + testPage, Size: testPage}))
	assert.True(t, a.BlockFree(f.Base, 1), "order 1 bit should be free again")
	assert.False(t, a.BlockFree(f.Base, 0))
	assert.Equal(t, uint64(4*testPage), a.FreeBytes())
}

func TestMergeOnlyWithTrueBuddy(t *testing.T) {
	a := newTestAllocator(t, 0, 4*testPage, 2)
	var pages []Frame
	for i := 0; i < 4; i++ {
		f, err := a.Allocate(testPage)
		require.NoError(t, err)
		pages = append(pages, f)
	}

	// Pages 1 and 2 are adjacent but belong to different order 1 blocks.
	require.NoError(t, a.Free(pages[1]))
	require.NoError(t, a.Free(pages[2]))
	assert.Equal(t, []int{2, 0, 0}, a.FreeBlocks())

	require.NoError(t, a.Free(pages[0]))
	assert.Equal(t, []int{1, 1, 0}, a.FreeBlocks())
	require.NoError(t, a.Free(pages[3]))
	assert.Equal(t, []int{0, 0, 1}, a.FreeBlocks())
}

func TestFreeRejectsBadFrames(t *testing.T) {
	a := newTestAllocator(t, 0, 8*testPage, 3)
	f, err := a.Allocate(2 * testPage)
	require.NoError(t, err)

	assert.Error(t, a.Free(Frame{Base: f.Base + testPage, Size: 2 * testPage}), "misaligned")
	assert.Error(t, a.Free(Frame{Base: 0x100000, Size: testPage}), "unmanaged")
	require.NoError(t, a.Free(f))
	assert.Error(t, a.Free(f), "double free")
}

func TestRandomAllocFreeRestoresMemory(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		a := newTestAllocator(t, 0x40000000, 256*testPage, 5)
		before := a.FreeBytes()

		var live []Frame
		for {
			size := uint32(rng.Intn(int(a.MaxBlockSize()))) + 1
			f, err := a.Allocate(size)
			if err != nil {
				break
			}
			for _, other := range live {
				overlap := f.Base < other.End() && other.Base < f.End()
				require.False(t, overlap, "%+v overlaps %+v", f, other)
			}
			live = append(live, f)
		}

		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		for _, f := range live {
			require.NoError(t, a.Free(f))
		}
		assert.Equal(t, before, a.FreeBytes(), "round %d", round)
		assert.Equal(t, []int{0, 0, 0, 0, 0, 8}, a.FreeBlocks(), "round %d", round)
	}
}

func TestReserveSplitsAndNeverMerges(t *testing.T) {
	a := newTestAllocator(t, 0, 8*testPage, 3)
	require.NoError(t, a.Reserve(2*testPage+100, 10))

	assert.True(t, a.IsReserved(2*testPage))
	assert.False(t, a.IsFree(2*testPage))
	assert.True(t, a.IsFree(3*testPage))
	assert.Equal(t, uint64(7*testPage), a.FreeBytes())
	assert.Equal(t, []int{1, 1, 1, 0}, a.FreeBlocks())

	// Drain and refill the allocator; the reserved page must never show up.
	var live []Frame
	for {
		f, err := a.Allocate(testPage)
		if err != nil {
			break
		}
		assert.NotEqual(t, uint32(2*testPage), f.Base)
		live = append(live, f)
	}
	assert.Len(t, live, 7)
	for _, f := range live {
		require.NoError(t, a.Free(f))
	}
	assert.False(t, a.IsFree(2*testPage), "sibling merge must not release the reserved page")
	assert.Equal(t, uint64(7*testPage), a.FreeBytes())

	assert.Error(t, a.Free(Frame{Base: 2 * testPage, Size: testPage}))
	assert.Error(t, a.Free(Frame{Base: 0, Size: 4 * testPage}))
}

func TestReserveIsAtomic(t *testing.T) {
	a := newTestAllocator(t, 0, 8*testPage, 3)
	f, err := a.Allocate(testPage)
	require.NoError(t, err)
	require.Equal(t, uint32(0), f.Base)

	before := a.FreeBlocks()
	err = a.Reserve(0, 4*testPage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.EBUSY))
	assert.Equal(t, before, a.FreeBlocks())
	assert.False(t, a.IsReserved(testPage))
}

func TestReserveOutsideZonesIsIgnored(t *testing.T) {
	a := newTestAllocator(t, 0x80000000, 4*testPage, 2)
	require.NoError(t, a.Reserve(0x7ffff000, 2*testPage))
	assert.True(t, a.IsReserved(0x80000000))
	assert.False(t, a.IsManaged(0x7ffff000))
	assert.Equal(t, uint64(3*testPage), a.FreeBytes())
}

func TestOverlappingZonesRejected(t *testing.T) {
	a := newTestAllocator(t, 0, 8*testPage, 3)
	assert.Error(t, a.AddZone(4*testPage, 8*testPage))
	assert.NoError(t, a.AddZone(8*testPage, 8*testPage))
	assert.Equal(t, uint64(16*testPage), a.TotalBytes())
}
