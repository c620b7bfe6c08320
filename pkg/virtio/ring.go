package virtio

import "encoding/binary"

// descriptorSize is the size in bytes of one descriptor-table entry:
// 8-byte guest physical address, 4-byte length, 2-byte flags, 2-byte next.
const descriptorSize = 16

// Descriptor flags.
const (
	descFNext  = 1
	descFWrite = 2
)

type descriptor []byte

func (d descriptor) addr() uint64        { return binary.LittleEndian.Uint64(d[0:8]) }
func (d descriptor) setAddr(v uint64)    { binary.LittleEndian.PutUint64(d[0:8], v) }
func (d descriptor) length() uint32      { return binary.LittleEndian.Uint32(d[8:12]) }
func (d descriptor) setLength(v uint32)  { binary.LittleEndian.PutUint32(d[8:12], v) }
func (d descriptor) flags() uint16       { return binary.LittleEndian.Uint16(d[12:14]) }
func (d descriptor) setFlags(v uint16)   { binary.LittleEndian.PutUint16(d[12:14], v) }
func (d descriptor) next() uint16        { return binary.LittleEndian.Uint16(d[14:16]) }
func (d descriptor) setNext(v uint16)    { binary.LittleEndian.PutUint16(d[14:16], v) }

func (d descriptor) reset() {
	for i := range d {
		d[i] = 0
	}
}

// availRing is the driver-writable ring the device polls: flags, index,
// N ring entries. This implementation omits the optional used-event
// field, matching a minimal legacy-only driver.
type availRing struct {
	buf []byte
	n   int
}

func (a availRing) flags() uint16      { return binary.LittleEndian.Uint16(a.buf[0:2]) }
func (a availRing) setFlags(v uint16)  { binary.LittleEndian.PutUint16(a.buf[0:2], v) }
func (a availRing) index() uint16      { return binary.LittleEndian.Uint16(a.buf[2:4]) }
func (a availRing) setIndex(v uint16)  { binary.LittleEndian.PutUint16(a.buf[2:4], v) }

func (a availRing) ringAt(i int) uint16 {
	off := 4 + (i%a.n)*2
	return binary.LittleEndian.Uint16(a.buf[off : off+2])
}

func (a availRing) setRingAt(i int, v uint16) {
	off := 4 + (i%a.n)*2
	binary.LittleEndian.PutUint16(a.buf[off:off+2], v)
}

// usedRing is the device-writable ring the driver polls: flags, index, N
// entries of {id uint32, length uint32}. The reference 0.9.5 layout packs
// the id as a 16-bit field with padding; this driver widens it to a plain
// 32-bit id to keep both fields naturally aligned.
type usedRing struct {
	buf []byte
	n   int
}

const usedElemSize = 8

func (u usedRing) flags() uint16     { return binary.LittleEndian.Uint16(u.buf[0:2]) }
func (u usedRing) setFlags(v uint16) { binary.LittleEndian.PutUint16(u.buf[0:2], v) }
func (u usedRing) index() uint16     { return binary.LittleEndian.Uint16(u.buf[2:4]) }
func (u usedRing) setIndex(v uint16) { binary.LittleEndian.PutUint16(u.buf[2:4], v) }

func (u usedRing) elemAt(i int) (id, length uint32) {
	off := 4 + (i%u.n)*usedElemSize
	return binary.LittleEndian.Uint32(u.buf[off : off+4]), binary.LittleEndian.Uint32(u.buf[off+4 : off+8])
}

// descriptorTableSize, availSize, usedSize and ringByteSize implement the
// split-ring layout and alignment rule: the descriptor table and
// available ring are packed together and padded up to a 4096-byte
// boundary before the used ring begins.
func descriptorTableSize(n int) int { return descriptorSize * n }
func availSize(n int) int           { return 4 + 2*n }
func usedSize(n int) int            { return 4 + usedElemSize*n }

func alignUp(v, alignment int) int {
	return (v + alignment - 1) &^ (alignment - 1)
}

func ringByteSize(n int) int {
	return alignUp(descriptorTableSize(n)+availSize(n), 4096) + usedSize(n)
}

// vring is a split virtqueue laid out in one DMA block.
type vring struct {
	mem   []byte
	n     int
	descs [][]byte
	avail availRing
	used  usedRing
}

func newVRing(mem []byte, n int) *vring {
	descTableEnd := descriptorTableSize(n)
	availEnd := descTableEnd + availSize(n)
	usedStart := alignUp(descTableEnd+availSize(n), 4096)

	descs := make([][]byte, n)
	for i := 0; i < n; i++ {
		descs[i] = mem[i*descriptorSize : (i+1)*descriptorSize]
	}

	return &vring{
		mem:   mem,
		n:     n,
		descs: descs,
		avail: availRing{buf: mem[descTableEnd:availEnd], n: n},
		used:  usedRing{buf: mem[usedStart : usedStart+usedSize(n)], n: n},
	}
}
