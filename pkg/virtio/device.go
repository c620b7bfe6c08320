// Package virtio implements a userspace driver for virtio-net devices
// running in legacy (pre-1.0) mode: split-ring virtqueues addressed
// through the legacy virtio-pci register layout, accessed by byte offset
// on the mapped BAR0 resource file rather than mmap'd MMIO.
package virtio

import (
	"fmt"
	"log"
	"time"

	"github.com/ixy-go/ixy/internal/hugepage"
	"github.com/ixy-go/ixy/internal/pciutil"
	"github.com/ixy-go/ixy/pkg/device"
	"github.com/ixy-go/ixy/pkg/mempool"
)

const (
	// legacy virtqueue sizes are dictated by the device (read from
	// QUEUE_NUM); these are only used to size the packet pools per 4.7.
	rxPoolMultiplier   = 4
	ctrlPoolMultiplier = 1

	linkSpeedMbit = 1000 // virtio-net has no physical link; report a fixed nominal speed
)

// Driver is a virtio-net legacy device handle.
type Driver struct {
	pci *pciutil.Device
	reg regFile

	queues [3]*virtQueue // indexed by vqRX, vqTX, vqCtrl

	stats device.Stats
}

var _ device.Device = (*Driver)(nil)

// Open binds a virtio-net legacy device at addr, negotiates features and
// brings up its RX, TX and control virtqueues.
func Open(addr pciutil.Address) (*Driver, error) {
	pci := pciutil.Open(addr)

	cfg, err := pci.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("virtio: %w", err)
	}
	if cfg.DeviceID != legacyDeviceID {
		return nil, fmt.Errorf("virtio: device %s is not a legacy virtio-net device (device id %#x)", addr, cfg.DeviceID)
	}

	if pci.HasDriver() {
		if err := pci.UnbindDriver(); err != nil {
			log.Printf("virtio: unbind driver for %s: %v", addr, err)
		}
	}

	if err := pci.EnableDMA(); err != nil {
		return nil, fmt.Errorf("virtio: %w", err)
	}

	f, err := pci.OpenResourceFile()
	if err != nil {
		return nil, fmt.Errorf("virtio: %w", err)
	}

	d := &Driver{pci: pci, reg: regFile{f: f}}

	if err := d.resetAndInit(); err != nil {
		f.Close()
		return nil, err
	}

	return d, nil
}

func (d *Driver) resetAndInit() error {
	d.reset()
	d.setStatus(statusAcknowledge)
	d.setStatus(statusAcknowledge | statusDriver)

	if err := d.negotiateFeatures(); err != nil {
		d.setStatus(statusFailed)
		return err
	}

	for _, vq := range []int{vqRX, vqTX, vqCtrl} {
		q, err := d.setupQueue(vq)
		if err != nil {
			d.setStatus(statusFailed)
			return fmt.Errorf("virtio: setup queue %d: %w", vq, err)
		}
		d.queues[vq] = q
	}

	d.setStatus(statusAcknowledge | statusDriver | statusDriverOK)

	if d.status()&statusFailed != 0 {
		return fmt.Errorf("virtio: device entered failed state during init")
	}

	return nil
}

func (d *Driver) reset() {
	d.setStatus(0)
	for d.status() != 0 {
		time.Sleep(time.Millisecond)
	}
}

func (d *Driver) status() uint8     { return d.reg.read8(regDeviceStatus) }
func (d *Driver) setStatus(s uint8) { d.reg.write8(regDeviceStatus, s) }

func (d *Driver) negotiateFeatures() error {
	host := d.reg.read32(regHostFeatures)
	required := uint32(requiredFeatures())

	if host&required != required {
		return fmt.Errorf("virtio: device does not offer required features (host=%#x required=%#x)", host, required)
	}

	d.reg.write32(regGuestFeatures, host&required)
	return nil
}

func (d *Driver) setupQueue(index int) (*virtQueue, error) {
	d.reg.write16(regQueueSelect, uint16(index))
	size := int(d.reg.read16(regQueueSize))
	if size == 0 {
		return nil, fmt.Errorf("queue size is zero")
	}

	ringBytes := ringByteSize(size)
	block, err := hugepage.Allocate(uint64(ringBytes), true)
	if err != nil {
		return nil, fmt.Errorf("allocate ring: %w", err)
	}
	for i := range block.Virtual {
		block.Virtual[i] = 0
	}

	d.reg.write32(regQueueAddress, uint32(block.PhysAddr(0)>>queueAddrShift))
	notifyOffset := d.reg.read16(regQueueNotify)

	ring := newVRing(block.Virtual, size)
	ring.avail.setFlags(1) // VRING_AVAIL_F_NO_INTERRUPT
	ring.used.setFlags(0)
	ring.used.setIndex(0)
	ring.avail.setIndex(0)
	for _, desc := range ring.descs {
		descriptor(desc).reset()
	}

	q := &virtQueue{
		index:        index,
		size:         size,
		block:        block,
		ring:         ring,
		notifyOffset: notifyOffset,
		buffers:      make([]*mempool.Buffer, size),
	}

	switch index {
	case vqRX:
		pool, err := mempool.Allocate(size*rxPoolMultiplier, mempool.DefaultBufferSize)
		if err != nil {
			return nil, fmt.Errorf("allocate RX pool: %w", err)
		}
		q.pool = pool
	case vqCtrl:
		pool, err := mempool.Allocate(size*ctrlPoolMultiplier, mempool.DefaultBufferSize)
		if err != nil {
			return nil, fmt.Errorf("allocate control pool: %w", err)
		}
		q.pool = pool
	}

	return q, nil
}

func (d *Driver) notify(vq int) {
	d.reg.write16(regQueueNotify, uint16(vq))
}

// LinkSpeed reports a fixed nominal speed: virtio-net has no physical
// link state to read.
func (d *Driver) LinkSpeed() int { return linkSpeedMbit }

// ReadStats folds the driver's running packet/byte counters into stats.
func (d *Driver) ReadStats(stats *device.Stats) {
	stats.Add(d.stats)
	d.stats = device.Stats{}
}

// Close releases the resource-file handle backing register access. DMA
// blocks for each virtqueue outlive the driver for the same reason the
// ixgbe driver doesn't unwind its rings on Close: buffers may still be
// in flight.
func (d *Driver) Close() error {
	return d.reg.f.Close()
}
