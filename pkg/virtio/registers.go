package virtio

// Legacy (pre-1.0) virtio-pci register layout, accessed as byte offsets
// into the mapped BAR0 resource via pread/pwrite rather than x86 I/O port
// instructions.
const (
	regHostFeatures  = 0x00
	regGuestFeatures = 0x04
	regQueueAddress  = 0x08
	regQueueSize     = 0x0c
	regQueueSelect   = 0x0e
	regQueueNotify   = 0x10
	regDeviceStatus  = 0x12
	regISRStatus     = 0x13
	regDeviceConfig  = 0x14

	queueAddrShift = 12

	legacyDeviceID = 0x1000
)

// Device status bits.
const (
	statusAcknowledge      = 1
	statusDriver           = 2
	statusDriverOK         = 4
	statusFeaturesOK       = 8
	statusDeviceNeedsReset = 64
	statusFailed           = 128
)

// Feature bits this driver requires the device to support.
const (
	featCSUM      = 1 << 0
	featGuestCSUM = 1 << 1
	featCtrlVQ    = 1 << 17
	featCtrlRX    = 1 << 18
	featVersion1  = 1 << 32
)

func requiredFeatures() uint64 {
	return featCSUM | featGuestCSUM | featCtrlVQ | featCtrlRX
}

// Virtqueue indices for a virtio-net device with a control channel.
const (
	vqRX   = 0
	vqTX   = 1
	vqCtrl = 2
)

// Control-queue command class and commands (VIRTIO_NET_CTRL_RX / *_PROMISC).
const (
	ctrlClassRX      = 0
	ctrlCmdRXPromisc = 0
)

// virtio-net header fields this driver emits: GSO disabled, no checksum
// offload, so the fixed scratch is all zero except the header length
// accounted for by the caller.
const (
	gsoNone   = 0
	headerLen = 14 + 20 + 8 // Ethernet + IPv4 + UDP, matching the reference driver's fixed scratch size
)
