package ixgbe

import "testing"

func TestRxDescriptorPackUnpack(t *testing.T) {
	buf := make([]byte, descriptorSize)
	d := rxDescriptor(buf)
	d.setPacketAddr(0x1122334455667788)

	if got := buf[0]; got != 0x88 {
		t.Fatalf("little-endian byte 0 = %#x, want 0x88", got)
	}

	// statusError/length read from the writeback overlay, which starts
	// zeroed by setPacketAddr clearing the second quadword.
	if got := d.statusError(); got != 0 {
		t.Fatalf("statusError() = %#x, want 0", got)
	}
}

func TestRxDescriptorWritebackLayout(t *testing.T) {
	buf := make([]byte, descriptorSize)
	d := rxDescriptor(buf)

	// writeback format: rss/packet-type (8 bytes), then status_error (4
	// bytes) at offset 8, then length (2 bytes) at offset 12, vlan at 14.
	buf[8] = 0x01
	buf[9] = 0x02
	buf[12] = 0x34
	buf[13] = 0x12

	if got := d.statusError(); got != 0x00000201 {
		t.Fatalf("statusError() = %#x, want 0x201", got)
	}
	if got := d.length(); got != 0x1234 {
		t.Fatalf("length() = %#x, want 0x1234", got)
	}
}

func TestTxDescriptorReadWriteback(t *testing.T) {
	buf := make([]byte, descriptorSize)
	d := txDescriptor(buf)
	d.setRead(0xAABBCCDD, 0x11223344, 0x55667788)

	if got := d.writebackStatus(); got != 0x55667788 {
		t.Fatalf("writebackStatus() = %#x, want 0x55667788", got)
	}
}

func TestDescriptorRingSlicing(t *testing.T) {
	mem := make([]byte, descriptorSize*4)
	ring := descriptorRing(mem, 4)
	if len(ring) != 4 {
		t.Fatalf("descriptorRing length = %d, want 4", len(ring))
	}
	for i, d := range ring {
		if len(d) != descriptorSize {
			t.Fatalf("descriptor %d length = %d, want %d", i, len(d), descriptorSize)
		}
	}
}

func TestWrapRing(t *testing.T) {
	if got := wrapRing(7, 8); got != 0 {
		t.Fatalf("wrapRing(7, 8) = %d, want 0", got)
	}
	if got := wrapRing(3, 8); got != 4 {
		t.Fatalf("wrapRing(3, 8) = %d, want 4", got)
	}
}
