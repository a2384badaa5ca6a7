package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, pagesize, extentSize uint32) *Heap {
	t.Helper()
	h, err := New(pagesize)
	require.NoError(t, err)
	require.NoError(t, h.AddExtent(extentSize))
	return h
}

func TestHeap_RejectsBadPageSize(t *testing.T) {
	_, err := New(100)
	assert.Error(t, err)

	_, err = New(1 << (MaxLog2 + 1))
	assert.Error(t, err)
}

func TestHeap_RejectsOversizedExtent(t *testing.T) {
	h, err := New(4096)
	require.NoError(t, err)
	assert.Error(t, h.AddExtent(MaxExtentSize+4096))
}

func TestHeap_RejectsTinyExtent(t *testing.T) {
	h, err := New(4096)
	require.NoError(t, err)
	assert.Error(t, h.AddExtent(4096)) // only one page, needs header + 2
}

func TestHeap_BucketAllocateAndFree(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*8)

	a, err := h.Allocate(32)
	require.NoError(t, err)
	b, err := h.Allocate(32)
	require.NoError(t, err)
	assert.NotEqual(t, &a[0], &b[0])

	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(b))
}

func TestHeap_PageRangeAllocateAndFree(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*8)

	big, err := h.Allocate(4096 * 3)
	require.NoError(t, err)
	assert.Len(t, big, 4096*3)
	require.NoError(t, h.Free(big))

	// The freed run should be reusable.
	again, err := h.Allocate(4096 * 3)
	require.NoError(t, err)
	assert.Len(t, again, 4096*3)
}

func TestHeap_FreeRejectsForeignBlock(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*8)
	foreign := make([]byte, 16)
	assert.Error(t, h.Free(foreign))
}

func TestHeap_FreeRejectsMisalignedBlock(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*8)
	block, err := h.Allocate(32)
	require.NoError(t, err)
	assert.Error(t, h.Free(block[1:]))
}

func TestHeap_FreeRejectsDoubleFree(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*8)
	big, err := h.Allocate(4096 * 2)
	require.NoError(t, err)
	require.NoError(t, h.Free(big))
	assert.Error(t, h.Free(big))
}

func TestHeap_OutOfMemory(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*4) // 4 pages total, header check needs >=3

	_, err := h.Allocate(4096 * 10)
	assert.Error(t, err)
}

func TestHeap_BucketPageReclaimedWhenEmpty(t *testing.T) {
	h := newTestHeap(t, 4096, 4096*3)

	// Fill a whole page with 32-byte blocks, then free them all; the
	// page should return to the free-page pool and be usable for a
	// large page-range allocation afterward.
	var blocks [][]byte
	for i := 0; i < 4096/32; i++ {
		b, err := h.Allocate(32)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	for _, b := range blocks {
		require.NoError(t, h.Free(b))
	}

	again, err := h.Allocate(4096 * 3)
	require.NoError(t, err)
	assert.Len(t, again, 4096*3)
}
