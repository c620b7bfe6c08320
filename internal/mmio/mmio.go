// Package mmio provides primitives for reading and modifying 32-bit
// registers inside a memory-mapped I/O window (a PCI device's BAR0).
//
// Every access goes through atomic loads and stores on the underlying
// mapped byte slice so that the compiler never caches a decoded value
// across calls and reorders it around a concurrent hardware write —
// the same guarantee the teacher's bare-metal register package gets
// from marking accesses volatile.
package mmio

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

// pollInterval is the sleep between polls in WaitSet/WaitClear. It must
// never be reachable from the RX/TX hot path.
const pollInterval = 10 * time.Millisecond

// Region is a 32-bit word view over a memory-mapped register window.
type Region struct {
	mem []byte
}

// New wraps a memory-mapped byte slice (typically obtained from mmap'ing
// a PCI device's resource0 file) as a register window.
func New(mem []byte) *Region {
	return &Region{mem: mem}
}

// Len returns the size in bytes of the underlying mapping.
func (r *Region) Len() int {
	return len(r.mem)
}

func (r *Region) word(offset int) *uint32 {
	if offset < 0 || offset+4 > len(r.mem) {
		panic(fmt.Sprintf("mmio: offset %#x out of range for %d byte window", offset, len(r.mem)))
	}
	return (*uint32)(unsafe.Pointer(&r.mem[offset]))
}

// Get reads the 32-bit little-endian register at offset.
func (r *Region) Get(offset int) uint32 {
	return atomic.LoadUint32(r.word(offset))
}

// Set writes value to the 32-bit little-endian register at offset.
func (r *Region) Set(offset int, value uint32) {
	atomic.StoreUint32(r.word(offset), value)
}

// SetFlags ORs mask into the register at offset.
func (r *Region) SetFlags(offset int, mask uint32) {
	r.Set(offset, r.Get(offset)|mask)
}

// ClearFlags clears every bit in mask from the register at offset.
func (r *Region) ClearFlags(offset int, mask uint32) {
	r.Set(offset, r.Get(offset)&^mask)
}

// WaitSet polls the register at offset until every bit in mask is set.
// Only used during init and link-up; never call this from rx_batch or
// tx_batch.
func (r *Region) WaitSet(offset int, mask uint32) {
	for r.Get(offset)&mask != mask {
		time.Sleep(pollInterval)
	}
}

// WaitClear polls the register at offset until every bit in mask is clear.
func (r *Region) WaitClear(offset int, mask uint32) {
	for r.Get(offset)&mask != 0 {
		time.Sleep(pollInterval)
	}
}

// WaitSetTimeout behaves like WaitSet but gives up after timeout, returning
// false without blocking further.
func (r *Region) WaitSetTimeout(offset int, mask uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for r.Get(offset)&mask != mask {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}

	return true
}
