package virtio

import "os"

// regFile addresses the legacy virtio-pci register window by byte offset
// via pread/pwrite on the mapped resource file, mirroring how the
// reference driver's VirtioRegister talks to the same BAR.
type regFile struct {
	f *os.File
}

func (r regFile) read8(offset int64) uint8 {
	var b [1]byte
	r.f.ReadAt(b[:], offset)
	return b[0]
}

func (r regFile) write8(offset int64, v uint8) {
	r.f.WriteAt([]byte{v}, offset)
}

func (r regFile) read16(offset int64) uint16 {
	var b [2]byte
	r.f.ReadAt(b[:], offset)
	return uint16(b[0]) | uint16(b[1])<<8
}

func (r regFile) write16(offset int64, v uint16) {
	r.f.WriteAt([]byte{byte(v), byte(v >> 8)}, offset)
}

func (r regFile) read32(offset int64) uint32 {
	var b [4]byte
	r.f.ReadAt(b[:], offset)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (r regFile) write32(offset int64, v uint32) {
	r.f.WriteAt([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}, offset)
}
