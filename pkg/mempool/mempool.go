// Package mempool implements the fixed-size packet buffer pools that back
// every descriptor ring. Buffers are carved out of a single hugepage-backed
// DMA block and recycled through a LIFO free list, so steady-state RX/TX
// never touches the allocator.
package mempool

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/ixy-go/ixy/internal/hugepage"
)

const (
	// headerSize is the size in bytes of the per-buffer header prepended
	// to every packet buffer: 8 bytes physical address, 8 bytes padding,
	// 4 bytes pool id, 4 bytes length, 40 bytes headroom.
	headerSize = 64

	headRoomOffset = 24
	headRoomSize   = 40

	// DefaultBufferSize is the conventional packet buffer size used by
	// every ring and pool unless the caller requests otherwise.
	DefaultBufferSize = 2048
)

var (
	registryMu sync.Mutex
	registry   = map[int]*Pool{}
)

// nextID returns the lowest positive integer not currently assigned to a
// live pool, mirroring the reference driver's pool registry.
func nextID() int {
	for i := 1; ; i++ {
		if _, taken := registry[i]; !taken {
			return i
		}
	}
}

// Pool is a fixed-size slab allocator for packet buffers, backed by one
// hugepage-backed DMA block.
type Pool struct {
	ID int

	block      *hugepage.Block
	entrySize  uint64
	numEntries int

	mu    sync.Mutex
	free  []*Buffer
}

// Buffer is a single packet buffer: a 64-byte header (physical address,
// pool id, length, headroom) followed by the packet payload. The pool it
// belongs to is not cached directly; Free looks it up by the id stored in
// the header, so a buffer is self-contained and safe to hand to hardware.
type Buffer struct {
	raw []byte
}

// WrapBuffer treats raw as an existing packet buffer (header plus
// payload), without zeroing it or assigning it a pool id. Used by pool
// initialization and by tests that need a buffer without a live pool.
func WrapBuffer(raw []byte) *Buffer {
	return &Buffer{raw: raw}
}

// Lookup returns the pool registered under id, or nil if none is live.
func Lookup(id int) *Pool {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[id]
}

// Allocate creates a new pool of numEntries buffers of entrySize bytes
// each (entrySize must divide the hugepage size evenly so that every
// buffer is backed by a single physically contiguous hugepage).
func Allocate(numEntries int, entrySize uint64) (*Pool, error) {
	if entrySize == 0 {
		entrySize = DefaultBufferSize
	}
	if hugepage.Size%entrySize != 0 {
		return nil, fmt.Errorf("mempool: entry size %d must divide the hugepage size %d", entrySize, hugepage.Size)
	}

	block, err := hugepage.Allocate(uint64(numEntries)*entrySize, false)
	if err != nil {
		return nil, fmt.Errorf("mempool: %w", err)
	}

	p := &Pool{
		block:      block,
		entrySize:  entrySize,
		numEntries: numEntries,
		free:       make([]*Buffer, 0, numEntries),
	}

	registryMu.Lock()
	p.ID = nextID()
	registry[p.ID] = p
	registryMu.Unlock()

	for i := 0; i < numEntries; i++ {
		offset := uint64(i) * entrySize
		raw := block.Virtual[offset : offset+entrySize]
		for j := range raw {
			raw[j] = 0
		}

		buf := &Buffer{raw: raw}
		binary.LittleEndian.PutUint64(raw[0:8], block.PhysAddr(offset))
		binary.LittleEndian.PutUint32(raw[16:20], uint32(p.ID))
		binary.LittleEndian.PutUint32(raw[20:24], 0)

		p.free = append(p.free, buf)
	}

	return p, nil
}

// Free releases the pool's id. The underlying DMA block is not unmapped;
// outstanding buffers handed to hardware may still be in flight.
func (p *Pool) Free() {
	registryMu.Lock()
	delete(registry, p.ID)
	registryMu.Unlock()
}

// Get pops one free buffer from the pool, or logs and returns nil if the
// pool is exhausted.
func (p *Pool) Get() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		log.Printf("mempool: pool %d exhausted", p.ID)
		return nil
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	return buf
}

// GetMultiple pops up to n free buffers, returning fewer if the pool does
// not have n available.
func (p *Pool) GetMultiple(n int) []*Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	avail := len(p.free)
	if n > avail {
		n = avail
	}
	out := make([]*Buffer, n)
	copy(out, p.free[avail-n:])
	p.free = p.free[:avail-n]
	return out
}

// Put returns buf to its owning pool's free list.
func (p *Pool) Put(buf *Buffer) {
	p.mu.Lock()
	p.free = append(p.free, buf)
	p.mu.Unlock()
}

// Free returns buf to whichever pool it was allocated from, looked up by
// the pool id stored in its header.
func (b *Buffer) Free() {
	if p := Lookup(b.PoolID()); p != nil {
		p.Put(b)
	}
}

// PhysicalAddress returns the buffer's physical base address (the address
// of the header, not the payload).
func (b *Buffer) PhysicalAddress() uint64 {
	return binary.LittleEndian.Uint64(b.raw[0:8])
}

// DataPhysicalAddress returns the physical address of the buffer's payload,
// i.e. PhysicalAddress() + headerSize.
func (b *Buffer) DataPhysicalAddress() uint64 {
	return b.PhysicalAddress() + headerSize
}

// PoolID returns the id of the pool this buffer was allocated from.
func (b *Buffer) PoolID() int {
	return int(binary.LittleEndian.Uint32(b.raw[16:20]))
}

// Size returns the current packet length stored in the buffer header.
func (b *Buffer) Size() int {
	return int(binary.LittleEndian.Uint32(b.raw[20:24]))
}

// SetSize records the packet length in the buffer header.
func (b *Buffer) SetSize(size int) {
	binary.LittleEndian.PutUint32(b.raw[20:24], uint32(size))
}

// Headroom returns the 40-byte scratch region between the fixed header
// fields and the packet payload, reserved for driver bookkeeping such as
// virtio's descriptor-chain metadata.
func (b *Buffer) Headroom() []byte {
	return b.raw[headRoomOffset : headRoomOffset+headRoomSize]
}

// Data returns the packet payload, sliced to the buffer's current Size().
func (b *Buffer) Data() []byte {
	return b.raw[headerSize : headerSize+b.Size()]
}

// Capacity returns the maximum payload length the buffer can hold.
func (b *Buffer) Capacity() int {
	return len(b.raw) - headerSize
}

// Raw returns the full backing slice, header included, for handing to a
// descriptor ring that wants the header physical address unmodified.
func (b *Buffer) Raw() []byte {
	return b.raw
}
