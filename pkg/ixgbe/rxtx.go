package ixgbe

import (
	"fmt"
	"log"

	"github.com/ixy-go/ixy/internal/hugepage"
	"github.com/ixy-go/ixy/pkg/mempool"
)

// initRx runs the datasheet section 4.6.7 receive init sequence and
// allocates numQueues receive queues.
func (d *Driver) initRx(numQueues int) error {
	d.reg.ClearFlags(regRXCTRL, rxctrlRXEN)

	// A single 128KB packet buffer; no DCB or VT.
	d.reg.Set(regRXPBSIZE(0), rxpbsize128KB)
	for i := 1; i < 8; i++ {
		d.reg.Set(regRXPBSIZE(i), 0)
	}

	const rdrxctlCRCStrip = 0x00000002

	d.reg.SetFlags(regHLREG0, hlreg0RXCRCSTRP)
	d.reg.SetFlags(regRDRXCTL, rdrxctlCRCStrip)
	d.reg.SetFlags(regFCTRL, fctrlBAM)

	d.rxQueues = make([]*rxQueue, numQueues)
	for i := 0; i < numQueues; i++ {
		q, err := d.initRxQueue(i)
		if err != nil {
			return err
		}
		d.rxQueues[i] = q
	}

	d.reg.SetFlags(regCTRLEXT, ctrlExtNSDis)
	for _, q := range d.rxQueues {
		// Reserved bit the datasheet documents as must-be-zero but is
		// initialized to 1 by the hardware.
		d.reg.ClearFlags(regDCARXCTRL(q.id), 1<<12)
	}

	d.reg.SetFlags(regRXCTRL, rxctrlRXEN)

	return nil
}

func (d *Driver) initRxQueue(index int) (*rxQueue, error) {
	log.Printf("ixgbe: initializing rx queue %d", index)

	srrctl := regSRRCTL(index)
	masked := d.reg.Get(srrctl) &^ srrctlDescTypeMask
	d.reg.Set(srrctl, masked|srrctlDescTypeAdvOne)
	// DROP_EN: drop rather than buffer when the ring is full, so one
	// overflowing queue can't monopolize the shared packet buffer.
	d.reg.SetFlags(srrctl, srrctlDropEn)

	ringSize := NumRxQueueEntries * descriptorSize
	ring, err := hugepage.Allocate(uint64(ringSize), true)
	if err != nil {
		return nil, fmt.Errorf("ixgbe: rx ring %d: %w", index, err)
	}
	for i := range ring.Virtual {
		ring.Virtual[i] = 0xFF
	}

	d.reg.Set(regRDBAL(index), uint32(ring.Physical))
	d.reg.Set(regRDBAH(index), uint32(ring.Physical>>32))
	d.reg.Set(regRDLEN(index), uint32(ringSize))

	d.reg.Set(regRDH(index), 0)
	d.reg.Set(regRDT(index), 0)

	poolSize := NumRxQueueEntries + NumTxQueueEntries
	if poolSize < 4096 {
		poolSize = 4096
	}
	pool, err := mempool.Allocate(poolSize, mempool.DefaultBufferSize)
	if err != nil {
		return nil, fmt.Errorf("ixgbe: rx queue %d mempool: %w", index, err)
	}

	return &rxQueue{
		id:      index,
		ring:    ring,
		descs:   descriptorRing(ring.Virtual, NumRxQueueEntries),
		buffers: make([]*mempool.Buffer, NumRxQueueEntries),
		pool:    pool,
	}, nil
}

func (d *Driver) startRxQueue(q *rxQueue) error {
	log.Printf("ixgbe: starting rx queue %d", q.id)

	size := q.size()
	if size&(size-1) != 0 {
		return fmt.Errorf("ixgbe: rx queue %d entry count %d is not a power of 2", q.id, size)
	}

	for i := range q.descs {
		buf := q.pool.Get()
		if buf == nil {
			return fmt.Errorf("ixgbe: rx queue %d: failed to allocate initial descriptor buffer", q.id)
		}
		rxDescriptor(q.descs[i]).setPacketAddr(buf.DataPhysicalAddress())
		q.buffers[i] = buf
	}

	d.reg.SetFlags(regRXDCTL(q.id), rxdctlEnable)
	d.reg.WaitSet(regRXDCTL(q.id), rxdctlEnable)

	d.reg.Set(regRDH(q.id), 0)
	d.reg.Set(regRDT(q.id), uint32(size-1))

	return nil
}

// initTx runs the datasheet section 4.6.8 transmit init sequence and
// allocates numQueues transmit queues.
func (d *Driver) initTx(numQueues int) error {
	d.reg.SetFlags(regHLREG0, hlreg0TXCRCEN|hlreg0TXPADEN)

	d.reg.Set(regTXPBSIZE(0), txpbsize40KB)
	for i := 1; i < 8; i++ {
		d.reg.Set(regTXPBSIZE(i), 0)
	}

	d.reg.Set(regDTXMXSZRQ, 0xFFFF)
	d.reg.ClearFlags(regRTTDCS, rttdcsARBDIS)

	d.txQueues = make([]*txQueue, numQueues)
	for i := 0; i < numQueues; i++ {
		q, err := d.initTxQueue(i)
		if err != nil {
			return err
		}
		d.txQueues[i] = q
	}

	d.reg.SetFlags(regDMATXCTL, dmatxctlTE)

	return nil
}

func (d *Driver) initTxQueue(index int) (*txQueue, error) {
	log.Printf("ixgbe: initializing tx queue %d", index)

	ringSize := NumTxQueueEntries * descriptorSize
	ring, err := hugepage.Allocate(uint64(ringSize), true)
	if err != nil {
		return nil, fmt.Errorf("ixgbe: tx ring %d: %w", index, err)
	}
	for i := range ring.Virtual {
		ring.Virtual[i] = 0xFF
	}

	d.reg.Set(regTDBAL(index), uint32(ring.Physical))
	d.reg.Set(regTDBAH(index), uint32(ring.Physical>>32))
	d.reg.Set(regTDLEN(index), uint32(ringSize))

	// Descriptor writeback pacing magic values (datasheet 7.2.3.4.1/7.2.3.5).
	txdctl := d.reg.Get(regTXDCTL(index))
	txdctl &^= 0x3F | (0x3F << 8) | (0x3F << 16)
	txdctl |= 36 | (8 << 8) | (4 << 16)
	d.reg.Set(regTXDCTL(index), txdctl)

	return &txQueue{
		id:      index,
		ring:    ring,
		descs:   descriptorRing(ring.Virtual, NumTxQueueEntries),
		buffers: make([]*mempool.Buffer, NumTxQueueEntries),
	}, nil
}

func (d *Driver) startTxQueue(q *txQueue) {
	log.Printf("ixgbe: starting tx queue %d", q.id)

	d.reg.Set(regTDH(q.id), 0)
	d.reg.Set(regTDT(q.id), 0)

	d.reg.SetFlags(regTXDCTL(q.id), txdctlEnable)
	d.reg.WaitSet(regTXDCTL(q.id), txdctlEnable)
}

// RxBatch polls queueID for up to n received packets. The hardware
// advances the head as it fills descriptors and the driver hands refilled
// slots back by writing the tail, so completion is detected by polling each
// descriptor's DD status bit rather than blocking (datasheet section 7.1.9).
func (d *Driver) RxBatch(queueID int, n int) []*mempool.Buffer {
	q := d.rxQueues[queueID]
	size := q.size()

	var received []*mempool.Buffer
	index := q.index
	last := index

	for i := 0; i < n; i++ {
		desc := rxDescriptor(q.descs[index])
		status := desc.statusError()
		if status&rxdadvStatDD == 0 {
			break
		}
		if status&rxdadvStatEOP == 0 {
			log.Fatalf("ixgbe: multi-segment packets are not supported, increase buffer size or decrease MTU")
		}

		buf := q.buffers[index]
		buf.SetSize(int(desc.length()))

		next := q.pool.Get()
		if next == nil {
			log.Fatalf("ixgbe: rx queue %d: mempool exhausted", queueID)
		}
		desc.setPacketAddr(next.DataPhysicalAddress())
		q.buffers[index] = next

		received = append(received, buf)

		last = index
		index = wrapRing(index, size)
	}

	if index != last {
		d.reg.Set(regRDT(queueID), uint32(last))
		q.index = index
	}

	return received
}

// cleanDescriptors returns descriptor slots the hardware has finished
// transmitting to their originating mempools, in fixed-size batches, and
// returns the new clean index.
func cleanDescriptors(q *txQueue) int {
	cleanIndex := q.cleanIndex
	size := q.size()

	for {
		cleanable := q.index - cleanIndex
		if cleanable < 0 {
			cleanable += size
		}
		if cleanable < txCleanBatch {
			break
		}

		cleanupTo := cleanIndex + txCleanBatch - 1
		if cleanupTo >= size {
			cleanupTo -= size
		}

		desc := txDescriptor(q.descs[cleanupTo])
		if desc.writebackStatus()&advTxdStatDD == 0 {
			break
		}

		for i := cleanIndex; ; i = wrapRing(i, size) {
			q.buffers[i].Free()
			if i == cleanupTo {
				break
			}
		}
		cleanIndex = wrapRing(cleanupTo, size)
	}

	return cleanIndex
}

// TxBatch enqueues as many of buffers as the ring has room for right now
// and returns the count actually sent. It never blocks; device.TxBatchBusyWait
// layers the all-consumed guarantee on top when the caller wants it.
func (d *Driver) TxBatch(queueID int, buffers []*mempool.Buffer) int {
	q := d.txQueues[queueID]
	q.cleanIndex = cleanDescriptors(q)

	size := q.size()
	index := q.index
	sent := 0

	for _, buf := range buffers {
		next := wrapRing(index, size)
		if q.cleanIndex == next {
			break
		}

		q.buffers[index] = buf
		desc := txDescriptor(q.descs[index])
		length := uint32(buf.Size())
		desc.setRead(buf.DataPhysicalAddress(), txCmdTypeFlags|length, length<<advTxdPayloadLenShift)

		index = next
		sent++
	}

	q.index = index
	d.reg.Set(regTDT(queueID), uint32(index))

	return sent
}
