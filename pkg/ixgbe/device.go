// Package ixgbe drives Intel 82599-family 10GbE NICs directly from
// userspace: BAR0 register access, hugepage-backed descriptor rings, and
// the polled RX/TX batch paths described in the 82599 datasheet sections
// 4.6 (init), 7.1 (receive) and 7.2 (transmit).
package ixgbe

import (
	"fmt"
	"log"
	"time"

	"github.com/ixy-go/ixy/internal/mmio"
	"github.com/ixy-go/ixy/internal/pciutil"
	"github.com/ixy-go/ixy/pkg/device"
	"github.com/ixy-go/ixy/pkg/mempool"
	"golang.org/x/sys/unix"
)

const (
	MaxQueues            = 64
	NumRxQueueEntries    = 512
	NumTxQueueEntries    = 512
	txCleanBatch         = 32
	linkWaitTimeout      = 10 * time.Second
)

// Driver is a userspace handle to one 82599 NIC.
type Driver struct {
	pci *pciutil.Device
	reg *mmio.Region
	mem []byte

	rxQueues []*rxQueue
	txQueues []*txQueue
}

// Open binds to the PCI device at addr, unbinding any kernel driver,
// mapping its BAR0, and running the 82599 reset-and-init sequence with
// numRxQueues receive and numTxQueues transmit queues.
func Open(addr pciutil.Address, numRxQueues, numTxQueues int) (*Driver, error) {
	if numRxQueues <= 0 || numRxQueues > MaxQueues {
		return nil, fmt.Errorf("ixgbe: invalid rx queue count %d", numRxQueues)
	}
	if numTxQueues <= 0 || numTxQueues > MaxQueues {
		return nil, fmt.Errorf("ixgbe: invalid tx queue count %d", numTxQueues)
	}

	pci := pciutil.Open(addr)

	if pci.HasDriver() {
		log.Printf("ixgbe: unbinding kernel driver from %s", addr)
		if err := pci.UnbindDriver(); err != nil {
			return nil, fmt.Errorf("ixgbe: %w", err)
		}
	}
	if err := pci.EnableDMA(); err != nil {
		return nil, fmt.Errorf("ixgbe: %w", err)
	}

	mem, err := pci.MapResource()
	if err != nil {
		return nil, fmt.Errorf("ixgbe: %w", err)
	}

	d := &Driver{pci: pci, reg: mmio.New(mem), mem: mem}

	if err := d.resetAndInit(numRxQueues, numTxQueues); err != nil {
		d.releaseQueues()
		unix.Munmap(mem)
		return nil, err
	}

	return d, nil
}

// releaseQueues unwinds any ring DMA blocks and packet pools already
// allocated by a partial resetAndInit, so a failure partway through
// bring-up doesn't leak hugepage-backed memory.
func (d *Driver) releaseQueues() {
	for _, q := range d.rxQueues {
		if q == nil {
			continue
		}
		if q.pool != nil {
			q.pool.Free()
		}
		if q.ring != nil {
			q.ring.Close()
		}
	}
	for _, q := range d.txQueues {
		if q == nil {
			continue
		}
		if q.ring != nil {
			q.ring.Close()
		}
	}
	d.rxQueues = nil
	d.txQueues = nil
}

// resetAndInit runs the 82599 datasheet section 4.6.3 bring-up sequence.
func (d *Driver) resetAndInit(numRxQueues, numTxQueues int) error {
	log.Printf("ixgbe: resetting device")
	d.disableInterrupts()
	d.globalReset()
	d.disableInterrupts()

	log.Printf("ixgbe: initializing device")
	d.waitForEEPROM()
	d.waitForDMAInit()

	d.initLink()
	d.resetStats()

	if err := d.initRx(numRxQueues); err != nil {
		return err
	}
	if err := d.initTx(numTxQueues); err != nil {
		return err
	}

	for _, q := range d.rxQueues {
		if err := d.startRxQueue(q); err != nil {
			return err
		}
	}
	for _, q := range d.txQueues {
		d.startTxQueue(q)
	}

	d.SetPromisc(true)
	d.waitForLink()

	return nil
}

func (d *Driver) disableInterrupts() {
	d.reg.Set(regEIMC, 0x7FFFFFFF)
}

func (d *Driver) globalReset() {
	d.reg.Set(regCTRL, ctrlRSTMask)
	d.reg.WaitClear(regCTRL, ctrlRSTMask)
	time.Sleep(10 * time.Millisecond)
}

func (d *Driver) waitForEEPROM() {
	d.reg.WaitSet(regEEC, eecARD)
}

func (d *Driver) waitForDMAInit() {
	d.reg.WaitSet(regRDRXCTL, rdrxctlDMAIDONE)
}

// initLink forces 10G serial/XAUI mode and restarts autonegotiation
// (datasheet section 4.6.4). The eeprom ordinarily already has this set.
func (d *Driver) initLink() {
	autoc := d.reg.Get(regAUTOC)
	autoc = (autoc &^ autocLMSMask) | autocLMS10GSerial
	d.reg.Set(regAUTOC, autoc)

	autoc = d.reg.Get(regAUTOC)
	autoc = (autoc &^ autoc10GPMAPMDMask) | autoc10GXAUI
	d.reg.Set(regAUTOC, autoc)

	d.reg.SetFlags(regAUTOC, autocANRestart)
}

// resetStats reads every counter once; they self-clear on read.
func (d *Driver) resetStats() {
	d.reg.Get(regGPRC)
	d.reg.Get(regGPTC)
	d.reg.Get(regGORCL)
	d.reg.Get(regGORCH)
	d.reg.Get(regGOTCL)
	d.reg.Get(regGOTCH)
}

func (d *Driver) waitForLink() {
	log.Printf("ixgbe: waiting for link")
	deadline := time.Now().Add(linkWaitTimeout)
	speed := d.LinkSpeed()
	for speed == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		speed = d.LinkSpeed()
	}
	if speed != 0 {
		log.Printf("ixgbe: link established - speed %d Mbit/s", speed)
	} else {
		log.Printf("ixgbe: timed out waiting for link")
	}
}

// LinkSpeed returns the negotiated link speed in Mbit/s, or 0 if the
// link is down.
func (d *Driver) LinkSpeed() int {
	links := d.reg.Get(regLINKS)
	if links&linksUp == 0 {
		return 0
	}
	switch links & linksSpeedMask {
	case linksSpeed100:
		return 100
	case linksSpeed1G:
		return 1000
	case linksSpeed10G:
		return 10000
	default:
		log.Printf("ixgbe: unknown link speed bits %#x", links&linksSpeedMask)
		return 0
	}
}

// SetPromisc enables or disables promiscuous mode (unicast and multicast
// promiscuous, FCTRL.UPE/MPE).
func (d *Driver) SetPromisc(enabled bool) error {
	if enabled {
		log.Printf("ixgbe: enabling promiscuous mode")
		d.reg.SetFlags(regFCTRL, fctrlMPE|fctrlUPE)
	} else {
		log.Printf("ixgbe: disabling promiscuous mode")
		d.reg.ClearFlags(regFCTRL, fctrlMPE|fctrlUPE)
	}
	return nil
}

// ReadStats reads the hardware packet/byte counters, which self-clear on
// read, and accumulates them into stats.
func (d *Driver) ReadStats(stats *device.Stats) {
	rxPackets := uint64(d.reg.Get(regGPRC))
	txPackets := uint64(d.reg.Get(regGPTC))
	rxBytes := uint64(d.reg.Get(regGORCL)) + uint64(d.reg.Get(regGORCH))<<32
	txBytes := uint64(d.reg.Get(regGOTCL)) + uint64(d.reg.Get(regGOTCH))<<32

	stats.Add(device.Stats{
		RXPackets: rxPackets,
		TXPackets: txPackets,
		RXBytes:   rxBytes,
		TXBytes:   txBytes,
	})
}

// Close releases the BAR0 mapping. Descriptor ring and pool memory is not
// unmapped, since in-flight DMA buffers may still be referenced by the
// NIC.
func (d *Driver) Close() error {
	return unix.Munmap(d.mem)
}

var _ device.Device = (*Driver)(nil)
