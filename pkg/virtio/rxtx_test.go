package virtio

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/ixy-go/ixy/pkg/mempool"
)

func devNullFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open %s: %v", os.DevNull, err)
	}
	return f
}

func newTestBuffer(t *testing.T, poolID int) *mempool.Buffer {
	t.Helper()
	raw := make([]byte, 64+64)
	binary.LittleEndian.PutUint32(raw[16:20], uint32(poolID))
	return mempool.WrapBuffer(raw)
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	return &Driver{reg: regFile{f: devNullFile(t)}}
}

func TestTxBatchFillsFreeDescriptorsThenRejects(t *testing.T) {
	const size = 4
	mem := make([]byte, ringByteSize(size))
	ring := newVRing(mem, size)
	q := &virtQueue{size: size, ring: ring, buffers: make([]*mempool.Buffer, size)}

	d := newTestDriver(t)
	d.queues[vqTX] = q

	bufs := make([]*mempool.Buffer, 3)
	for i := range bufs {
		bufs[i] = newTestBuffer(t, 1)
		bufs[i].SetSize(64)
	}

	if sent := d.TxBatch(vqTX, bufs); sent != 3 {
		t.Fatalf("TxBatch() sent = %d, want 3", sent)
	}

	last := newTestBuffer(t, 1)
	last.SetSize(64)
	if sent := d.TxBatch(vqTX, []*mempool.Buffer{last}); sent != 1 {
		t.Fatalf("TxBatch() on the final free slot sent = %d, want 1", sent)
	}

	extra := newTestBuffer(t, 1)
	extra.SetSize(64)
	if sent := d.TxBatch(vqTX, []*mempool.Buffer{extra}); sent != 0 {
		t.Fatalf("TxBatch() on an exhausted ring sent = %d, want 0", sent)
	}
}

func TestRxBatchDrainsUsedAndReplenishes(t *testing.T) {
	const size = 4
	mem := make([]byte, ringByteSize(size))
	ring := newVRing(mem, size)

	pool, err := mempool.Allocate(size*2, mempool.DefaultBufferSize)
	if err != nil {
		t.Skipf("mempool unavailable in this environment: %v", err)
	}
	defer pool.Free()

	q := &virtQueue{size: size, ring: ring, pool: pool, buffers: make([]*mempool.Buffer, size)}
	d := newTestDriver(t)
	d.queues[vqRX] = q

	// First call: nothing in the used ring, so every slot gets replenished.
	got := d.RxBatch(vqRX, size)
	if len(got) != 0 {
		t.Fatalf("RxBatch() on an empty used ring returned %d buffers, want 0", len(got))
	}
	for i, buf := range q.buffers {
		if buf == nil {
			t.Fatalf("slot %d was not replenished", i)
		}
	}

	// Simulate the device completing slots 0 and 1.
	ring.used.buf[4] = 0 // id of used element 0 = slot 0
	binary.LittleEndian.PutUint32(ring.used.buf[8:12], 128)
	ring.used.buf[4+usedElemSize] = 1 // id of used element 1 = slot 1
	binary.LittleEndian.PutUint32(ring.used.buf[4+usedElemSize+4:4+usedElemSize+8], 256)
	ring.used.setIndex(2)

	got = d.RxBatch(vqRX, size)
	if len(got) != 2 {
		t.Fatalf("RxBatch() after 2 completions returned %d buffers, want 2", len(got))
	}
	if got[0].Size() != 128 || got[1].Size() != 256 {
		t.Fatalf("RxBatch() sizes = %d, %d, want 128, 256", got[0].Size(), got[1].Size())
	}
	for i, buf := range q.buffers {
		if buf == nil {
			t.Fatalf("slot %d was not replenished after drain", i)
		}
	}
}

func TestSetPromiscWritesScenarioS6ControlBytes(t *testing.T) {
	const size = 4
	mem := make([]byte, ringByteSize(size))
	ring := newVRing(mem, size)

	pool, err := mempool.Allocate(1, mempool.DefaultBufferSize)
	if err != nil {
		t.Skipf("mempool unavailable in this environment: %v", err)
	}
	defer pool.Free()

	q := &virtQueue{size: size, ring: ring, pool: pool, buffers: make([]*mempool.Buffer, size)}
	d := newTestDriver(t)
	d.queues[vqCtrl] = q

	done := make(chan struct{})
	go func() {
		for ring.avail.index() == 0 {
			time.Sleep(time.Microsecond)
		}
		ring.used.setIndex(ring.avail.index())
		close(done)
	}()

	if err := d.SetPromisc(true); err != nil {
		t.Fatalf("SetPromisc(true) = %v", err)
	}
	<-done

	buf := pool.Get()
	if buf == nil {
		t.Fatal("control buffer was not returned to the pool")
	}
	raw := buf.Raw()
	off := len(raw) - buf.Capacity()
	got := raw[off : off+4]
	want := []byte{0x00, 0x00, 0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("control command bytes = %v, want %v", got, want)
	}
}
