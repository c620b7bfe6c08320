// Package hugepage allocates hugepage-backed, physically contiguous DMA
// memory for packet-buffer pools and descriptor rings.
//
// A Block is pinned (never swapped) host RAM with both a virtual address
// the process can read and write and a physical address suitable for
// handing to a PCI device's DMA engine. Physical addresses are resolved
// through /proc/self/pagemap, the same mechanism userspace hardware access
// libraries such as periph.io's host/pmem package use to back mmap'd
// registers and DMA buffers with known physical addresses.
package hugepage

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// Size is the hugepage size assumed throughout the driver (x86_64
	// default hugetlbfs page size).
	Size = 2 * 1024 * 1024

	// Mount is the hugetlbfs mount point new DMA files are created under.
	Mount = "/mnt/huge"

	pageSize = 4096
)

var sequence uint64

// Block is a hugepage-backed region of DMA memory.
type Block struct {
	// Virtual is the process-local view of the block; the application may
	// read and write it freely.
	Virtual []byte
	// Physical is the block's base physical address, suitable for DMA.
	Physical uint64
	// Size is the block's size in bytes, always a multiple of Size.
	Size uint64

	file *os.File
}

// roundUp rounds size up to the next multiple of the hugepage size.
func roundUp(size uint64) uint64 {
	return (size + Size - 1) &^ (Size - 1)
}

// Allocate reserves size' = roundUp(size) bytes of hugepage-backed memory.
// When contiguous is true the caller needs the whole block to be a single
// physically contiguous region, which this allocator can only guarantee
// when size' fits within a single hugepage.
func Allocate(size uint64, contiguous bool) (*Block, error) {
	rounded := roundUp(size)

	if contiguous && rounded > Size {
		return nil, fmt.Errorf("hugepage: %d bytes requires %d hugepages, contiguity not guaranteed", size, rounded/Size)
	}

	id := atomic.AddUint64(&sequence, 1)
	path := fmt.Sprintf("%s/ixy-%d-%d", Mount, os.Getpid(), id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("hugepage: create %s: %w", path, err)
	}
	// The file is only a handle to the backing hugepages; unlink it
	// immediately so it doesn't outlive the process or collide on reuse.
	os.Remove(path)

	if err := f.Truncate(int64(rounded)); err != nil {
		f.Close()
		return nil, fmt.Errorf("hugepage: truncate %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(rounded), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hugepage: mmap %s: %w", path, err)
	}

	if err := unix.Mlock(mem); err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, fmt.Errorf("hugepage: mlock %s: %w", path, err)
	}

	phys, err := virtToPhys(mem)
	if err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, err
	}

	return &Block{Virtual: mem, Physical: phys, Size: rounded, file: f}, nil
}

// PhysAddr translates a byte offset inside the block to a physical address.
func (b *Block) PhysAddr(offset uint64) uint64 {
	if offset >= b.Size {
		panic(fmt.Sprintf("hugepage: offset %d out of range for %d byte block", offset, b.Size))
	}
	if offset < Size {
		// The first hugepage is physically contiguous from Physical.
		return b.Physical + offset
	}
	// Later hugepages need not follow the first one physically.
	phys, err := virtToPhys(b.Virtual[offset:])
	if err != nil {
		panic(err.Error())
	}
	return phys
}

// Close releases the block's memory. The backing hugepages are returned to
// the kernel once unmapped.
func (b *Block) Close() error {
	if err := unix.Munmap(b.Virtual); err != nil {
		return err
	}
	return b.file.Close()
}

// virtToPhys resolves the physical address backing the first byte of mem by
// reading /proc/self/pagemap, as documented in
// https://www.kernel.org/doc/Documentation/vm/pagemap.txt.
func virtToPhys(mem []byte) (uint64, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return 0, fmt.Errorf("hugepage: open pagemap: %w", err)
	}
	defer f.Close()

	virt := uint64(uintptr(unsafe.Pointer(&mem[0])))
	offset := int64((virt / pageSize) * 8)

	var entry [8]byte
	if _, err := f.ReadAt(entry[:], offset); err != nil {
		return 0, fmt.Errorf("hugepage: read pagemap at %#x: %w", offset, err)
	}

	value := leUint64(entry[:])

	if value&(1<<63) == 0 {
		return 0, fmt.Errorf("hugepage: page at %#x not present", virt)
	}

	pfn := value & ((1 << 55) - 1)

	return pfn<<12 | (virt & 0xFFF), nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
