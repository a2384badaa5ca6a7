// Package heap implements the nanokernel's bucketed+paged page allocator
// (spec §4.2): a McKusick/Karels-style allocator over one or more fixed
// extents, with one free-list bucket per power of two up to the page
// size, and page-range carving for larger requests.
//
// The sub-page bucket free lists are grounded on the donor repo's
// arena/slab.go (fixed size-class pools with per-page bitmaps); the
// page-range carving and split/coalesce shape is grounded on
// arena/buddy.go. The request-routing entry point (Allocate picking a
// sub-allocator by size) mirrors arena/allocator.go's HybridAllocator.
package heap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/rtcore/nanokernel/log"
	"github.com/rtcore/nanokernel/rterr"
)

// Size bounds on the page size a Heap extent may use.
const (
	MinLog2 = 3  // smallest bucket: 8 bytes
	MaxLog2 = 17 // largest page size: 128 KiB
)

// MaxExtentSize is the hard ceiling on a single extent (spec §4.2).
const MaxExtentSize = 16 << 20

// Per-page classification stored in pageMap.
const (
	pfree = 0 // free page
	pcont = 1 // continuation of a multi-page range
	plist = 2 // start of a multi-page range
	// values >= bucketBase encode (log2(bucketSize) - MinLog2 + bucketBase):
	// the start of a sub-page bucket allocation.
	bucketBase = 3
)

const noOffset = ^uint32(0)

// Heap owns one or more fixed-size extents and serves allocations from
// whichever extent has room.
type Heap struct {
	mu       sync.Mutex
	pagesize uint32
	extents  []*extent
	log      *log.Logger
}

type extent struct {
	mem      []byte
	pagesize uint32
	npages   uint32

	pageMap    []byte   // per-page classification
	pageRunLen []uint32 // valid at a PLIST page: length of the run in pages
	freeBitset *bitset.BitSet

	// bucketHead[b] is the mem-offset of the first free block in bucket
	// b's free list, or noOffset if empty. Free blocks are singly linked
	// by writing the next offset into their own first 4 bytes, the same
	// in-band linking idiom the donor's buddy allocator uses.
	bucketHead []uint32
	// bucketLive[pageIdx] counts live (allocated) sub-blocks carved from
	// that page; when it returns to 0 the whole page is reclaimed.
	bucketLive []uint16
}

// New creates an empty Heap for the given page size, which must be a
// power of two in [2^MinLog2, 2^MaxLog2].
func New(pagesize uint32) (*Heap, error) {
	if !isPow2(pagesize) || log2(pagesize) < MinLog2 || log2(pagesize) > MaxLog2 {
		return nil, rterr.Wrap(rterr.ErrInval, fmt.Sprintf("pagesize %d out of range", pagesize))
	}
	return &Heap{pagesize: pagesize, log: log.New("heap")}, nil
}

// AddExtent grows the heap by one fixed-size extent. size must be a
// multiple of the heap's page size, large enough for the header plus
// two pages, and at most MaxExtentSize.
func (h *Heap) AddExtent(size uint32) error {
	if size%h.pagesize != 0 {
		return rterr.Wrap(rterr.ErrInval, "extent size not a multiple of pagesize")
	}
	if size > MaxExtentSize {
		return rterr.Wrap(rterr.ErrInval, "extent exceeds 16MiB limit")
	}
	npages := size / h.pagesize
	headerPages := uint32(1)
	if npages < headerPages+2 {
		return rterr.Wrap(rterr.ErrInval, "extent too small for header plus two pages")
	}

	nBuckets := int(log2(h.pagesize) - MinLog2 + 1)
	e := &extent{
		mem:        make([]byte, size),
		pagesize:   h.pagesize,
		npages:     npages,
		pageMap:    make([]byte, npages),
		pageRunLen: make([]uint32, npages),
		freeBitset: bitset.New(uint(npages)),
		bucketHead: make([]uint32, nBuckets),
		bucketLive: make([]uint16, npages),
	}
	for i := range e.bucketHead {
		e.bucketHead[i] = noOffset
	}
	for p := uint32(0); p < npages; p++ {
		e.freeBitset.Set(uint(p))
	}

	h.mu.Lock()
	h.extents = append(h.extents, e)
	h.mu.Unlock()
	return nil
}

// Allocate returns a byte slice of at least size bytes carved from one
// of the heap's extents.
func (h *Heap) Allocate(size uint32) ([]byte, error) {
	if size == 0 {
		return nil, rterr.Wrap(rterr.ErrInval, "zero-size allocation")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.extents {
		var off uint32
		var ok bool
		if size <= h.pagesize {
			off, ok = e.allocBucket(size)
		} else {
			npages := (size + h.pagesize - 1) / h.pagesize
			off, ok = e.allocPages(npages)
		}
		if ok {
			return e.mem[off : off+size : off+size], nil
		}
	}
	h.log.Warn("heap out of memory", log.Uint64("size", uint64(size)))
	return nil, rterr.Wrap(rterr.ErrNoMem, "no extent has room")
}

// Free releases a block previously returned by Allocate.
func (h *Heap) Free(block []byte) error {
	if len(block) == 0 {
		return rterr.Wrap(rterr.ErrInval, "nil block")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.extents {
		if e.owns(block) {
			return e.free(block)
		}
	}
	return rterr.Wrap(rterr.ErrInval, "block not in this heap")
}

// OccupiedPages returns the number of pages currently committed to a
// bucket or page-range allocation, across every extent, for metrics
// sampling (spec §11).
func (h *Heap) OccupiedPages() uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	var occupied uint
	for _, e := range h.extents {
		occupied += uint(e.npages) - e.freeBitset.Count()
	}
	return occupied
}

func (e *extent) owns(block []byte) bool {
	base := bytePtr(e.mem)
	p := bytePtr(block)
	return p >= base && p < base+uintptrLen(e.mem)
}

// --- bucket (sub-page) allocation, grounded on arena/slab.go ---

func (e *extent) bucketIndex(size uint32) int {
	l := log2(nextPow2(size))
	if l < MinLog2 {
		l = MinLog2
	}
	return int(l - MinLog2)
}

func (e *extent) allocBucket(size uint32) (uint32, bool) {
	b := e.bucketIndex(size)
	if e.bucketHead[b] == noOffset {
		if !e.refillBucket(b) {
			return 0, false
		}
	}
	off := e.bucketHead[b]
	e.bucketHead[b] = e.readU32(off)
	pageIdx := off / e.pagesize
	e.bucketLive[pageIdx]++
	return off, true
}

// refillBucket carves one free page from the page free list and splits
// it into equal-size blocks for bucket b, chaining them into the
// bucket's free list (arena/buddy.go's splitBlock, one level deep).
func (e *extent) refillBucket(b int) bool {
	pageIdx, ok := e.findFreePage()
	if !ok {
		return false
	}
	blockSize := uint32(1) << uint(MinLog2+b)
	pageOff := pageIdx * e.pagesize

	e.freeBitset.Clear(uint(pageIdx))
	e.pageMap[pageIdx] = byte(bucketBase + b)
	e.bucketLive[pageIdx] = 0

	nBlocks := e.pagesize / blockSize
	for i := uint32(0); i < nBlocks; i++ {
		blockOff := pageOff + i*blockSize
		e.writeU32(blockOff, e.bucketHead[b])
		e.bucketHead[b] = blockOff
	}
	return true
}

func (e *extent) freeBucketBlock(off uint32, b int) {
	pageIdx := off / e.pagesize
	e.writeU32(off, e.bucketHead[b])
	e.bucketHead[b] = off
	e.bucketLive[pageIdx]--
	if e.bucketLive[pageIdx] == 0 {
		e.reclaimBucketPage(pageIdx, b)
	}
}

// reclaimBucketPage removes every block belonging to pageIdx from
// bucket b's free list and returns the page to the free-page pool.
func (e *extent) reclaimBucketPage(pageIdx uint32, b int) {
	pageOff := pageIdx * e.pagesize
	pageEnd := pageOff + e.pagesize

	var kept uint32 = noOffset
	var keptTail uint32 = noOffset
	for cur := e.bucketHead[b]; cur != noOffset; {
		next := e.readU32(cur)
		if cur >= pageOff && cur < pageEnd {
			cur = next
			continue
		}
		if kept == noOffset {
			kept = cur
		} else {
			e.writeU32(keptTail, cur)
		}
		keptTail = cur
		cur = next
	}
	if keptTail != noOffset {
		e.writeU32(keptTail, noOffset)
	}
	e.bucketHead[b] = kept

	e.pageMap[pageIdx] = pfree
	e.freeBitset.Set(uint(pageIdx))
}

// --- page-range (multi-page) allocation, grounded on arena/buddy.go ---

func (e *extent) findFreePage() (uint32, bool) {
	for p := uint32(0); p < e.npages; p++ {
		if e.freeBitset.Test(uint(p)) {
			return p, true
		}
	}
	return 0, false
}

// allocPages finds the first contiguous ascending-address run of n
// free pages and carves it off.
func (e *extent) allocPages(n uint32) (uint32, bool) {
	run := uint32(0)
	start := uint32(0)
	for p := uint32(0); p < e.npages; p++ {
		if e.freeBitset.Test(uint(p)) {
			if run == 0 {
				start = p
			}
			run++
			if run == n {
				for i := uint32(0); i < n; i++ {
					idx := start + i
					e.freeBitset.Clear(uint(idx))
					if i == 0 {
						e.pageMap[idx] = plist
						e.pageRunLen[idx] = n
					} else {
						e.pageMap[idx] = pcont
					}
				}
				return start * e.pagesize, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (e *extent) free(block []byte) error {
	off := uint32(bytePtr(block) - bytePtr(e.mem))
	pageIdx := off / e.pagesize
	if off%e.pagesize != 0 {
		switch e.pageMap[pageIdx] {
		case pfree, pcont, plist:
			return rterr.Wrap(rterr.ErrInval, "heap: block not at a bucket start")
		default:
			b := int(e.pageMap[pageIdx]) - bucketBase
			blockSize := uint32(1) << uint(MinLog2+b)
			if off%blockSize != 0 {
				return rterr.Wrap(rterr.ErrInval, "heap: unaligned block")
			}
			e.freeBucketBlock(off, b)
			return nil
		}
	}

	switch e.pageMap[pageIdx] {
	case plist:
		n := e.pageRunLen[pageIdx]
		for i := uint32(0); i < n; i++ {
			idx := pageIdx + i
			e.pageMap[idx] = pfree
			e.freeBitset.Set(uint(idx))
		}
		return nil
	case pfree:
		return rterr.Wrap(rterr.ErrInval, "heap: double free")
	case pcont:
		return rterr.Wrap(rterr.ErrInval, "heap: block not at a bucket start")
	default:
		b := int(e.pageMap[pageIdx]) - bucketBase
		e.freeBucketBlock(off, b)
		return nil
	}
}

func (e *extent) readU32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(e.mem[off:])
}

func (e *extent) writeU32(off, v uint32) {
	binary.LittleEndian.PutUint32(e.mem[off:], v)
}

func isPow2(v uint32) bool { return v != 0 && v&(v-1) == 0 }

func nextPow2(v uint32) uint32 {
	if isPow2(v) {
		return v
	}
	p := uint32(1)
	for p < v {
		p <<= 1
	}
	return p
}

func log2(v uint32) uint32 {
	var l uint32
	for v > 1 {
		v >>= 1
		l++
	}
	return l
}
