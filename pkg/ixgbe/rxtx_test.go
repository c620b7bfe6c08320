package ixgbe

import (
	"encoding/binary"
	"testing"

	"github.com/ixy-go/ixy/internal/mmio"
	"github.com/ixy-go/ixy/pkg/mempool"
)

func newTestBuffer(t *testing.T, poolID int) *mempool.Buffer {
	t.Helper()
	raw := make([]byte, 64+64)
	binary.LittleEndian.PutUint32(raw[16:20], uint32(poolID))
	return mempool.WrapBuffer(raw)
}

func newTestDriver(numTxQueues int) *Driver {
	reg := mmio.New(make([]byte, 0x20000))
	d := &Driver{reg: reg}
	d.txQueues = make([]*txQueue, numTxQueues)
	return d
}

func poolForTest(n int) (*mempool.Pool, error) {
	return mempool.Allocate(n, mempool.DefaultBufferSize)
}

func TestCleanDescriptorsOnlyCleansCompleteBatches(t *testing.T) {
	const size = 64
	mem := make([]byte, descriptorSize*size)
	q := &txQueue{
		descs:   descriptorRing(mem, size),
		buffers: make([]*mempool.Buffer, size),
	}

	for i := range q.buffers {
		q.buffers[i] = newTestBuffer(t, 1)
	}
	q.index = txCleanBatch // one full batch worth of outstanding descriptors

	// Hardware has not marked the batch as done yet: nothing should clean.
	if got := cleanDescriptors(q); got != 0 {
		t.Fatalf("cleanDescriptors() = %d before DD set, want 0", got)
	}

	// Mark the last descriptor in the batch complete.
	txDescriptor(q.descs[txCleanBatch-1]).setRead(0, 0, advTxdStatDD)

	if got := cleanDescriptors(q); got != txCleanBatch {
		t.Fatalf("cleanDescriptors() = %d after DD set, want %d", got, txCleanBatch)
	}
}

func TestTxBatchLeavesOneSlotFreeToDistinguishFullFromEmpty(t *testing.T) {
	const size = 4
	mem := make([]byte, descriptorSize*size)
	q := &txQueue{
		descs:   descriptorRing(mem, size),
		buffers: make([]*mempool.Buffer, size),
	}
	d := newTestDriver(1)
	d.txQueues[0] = q

	bufs := make([]*mempool.Buffer, 3)
	for i := range bufs {
		b := newTestBuffer(t, 1)
		b.SetSize(64)
		bufs[i] = b
	}

	sent := d.TxBatch(0, bufs)
	if sent != 3 {
		t.Fatalf("TxBatch() sent = %d, want 3", sent)
	}

	// The ring is now full: a further packet must not be accepted until
	// cleanDescriptors reclaims a slot.
	extra := newTestBuffer(t, 1)
	extra.SetSize(64)
	if sent := d.TxBatch(0, []*mempool.Buffer{extra}); sent != 0 {
		t.Fatalf("TxBatch() on a full ring sent = %d, want 0", sent)
	}
}

func TestRxBatchStopsAtFirstNotDoneDescriptor(t *testing.T) {
	const size = 8
	mem := make([]byte, descriptorSize*size)
	descs := descriptorRing(mem, size)

	pool, err := poolForTest(size * 2)
	if err != nil {
		t.Skipf("mempool unavailable in this environment: %v", err)
	}
	defer pool.Free()

	buffers := make([]*mempool.Buffer, size)
	for i := range descs {
		buf := pool.Get()
		rxDescriptor(descs[i]).setPacketAddr(buf.DataPhysicalAddress())
		buffers[i] = buf
	}

	// Mark only the first two descriptors done-and-EOP. status_error lives
	// at writeback byte offset 8 (rss/packet-type occupies the first 8
	// bytes of the writeback overlay).
	for i := 0; i < 2; i++ {
		rxDescriptor(descs[i])[8] = rxdadvStatDD | rxdadvStatEOP
	}

	q := &rxQueue{descs: descs, buffers: buffers, pool: pool}
	d := newTestDriver(0)
	d.rxQueues = []*rxQueue{q}

	got := d.RxBatch(0, size)
	if len(got) != 2 {
		t.Fatalf("RxBatch() returned %d buffers, want 2", len(got))
	}
}
