package ixgbe

import "encoding/binary"

// descriptorSize is the size in bytes of every advanced RX and TX
// descriptor (datasheet sections 7.1.6 and 7.2.3).
const descriptorSize = 16

// rxDescriptor is a 16-byte advanced receive descriptor. Before the NIC
// owns it, the first 16 bytes hold the read format (packet buffer
// address); once the NIC is done with it, the same bytes hold the
// writeback format (status, length, vlan). Both views are exposed over
// the same backing slice.
type rxDescriptor []byte

func (d rxDescriptor) setPacketAddr(addr uint64) {
	binary.LittleEndian.PutUint64(d[0:8], addr)
	binary.LittleEndian.PutUint64(d[8:16], 0)
}

func (d rxDescriptor) statusError() uint32 {
	return binary.LittleEndian.Uint32(d[8:12])
}

func (d rxDescriptor) length() uint16 {
	return binary.LittleEndian.Uint16(d[12:14])
}

// txDescriptor is a 16-byte advanced transmit descriptor, data type. The
// read format (buffer address, cmd_type_len, olinfo_status) is what the
// driver writes; the writeback format overlays the same bytes once the
// NIC reports completion via the DD status bit.
type txDescriptor []byte

func (d txDescriptor) setRead(addr uint64, cmdTypeLen, olinfoStatus uint32) {
	binary.LittleEndian.PutUint64(d[0:8], addr)
	binary.LittleEndian.PutUint32(d[8:12], cmdTypeLen)
	binary.LittleEndian.PutUint32(d[12:16], olinfoStatus)
}

func (d txDescriptor) writebackStatus() uint32 {
	return binary.LittleEndian.Uint32(d[12:16])
}

// descriptorRing slices a flat descriptor-ring DMA buffer into
// fixed-stride descriptor views.
func descriptorRing(mem []byte, count int) [][]byte {
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = mem[i*descriptorSize : (i+1)*descriptorSize]
	}
	return out
}
