package virtio

import (
	"github.com/ixy-go/ixy/internal/hugepage"
	"github.com/ixy-go/ixy/pkg/mempool"
)

// virtQueue is the driver-side state for one split virtqueue: the DMA
// block it is laid out in, the ring views into that block, the pool (if
// any) it replenishes from, and the cursors tracking how far the driver
// and device have each progressed.
type virtQueue struct {
	index int
	size  int

	block *hugepage.Block
	ring  *vring

	notifyOffset uint16

	pool *mempool.Pool // nil for the TX queue, which carries caller-owned buffers

	buffers []*mempool.Buffer // buffers currently attached to each descriptor slot

	usedLast   uint16
	freeCursor int
}

// freeDescriptor scans forward from the last free cursor for a descriptor
// slot with addr == 0, i.e. not attached to any buffer.
func (q *virtQueue) freeDescriptor() (int, bool) {
	for i := 0; i < q.size; i++ {
		idx := (q.freeCursor + i) % q.size
		if descriptor(q.ring.descs[idx]).addr() == 0 {
			q.freeCursor = (idx + 1) % q.size
			return idx, true
		}
	}
	return 0, false
}
