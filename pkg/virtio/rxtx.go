package virtio

import (
	"log"

	"github.com/ixy-go/ixy/pkg/mempool"
)

// writeNetHeaderScratch zeroes the virtio-net header region immediately
// before buf's payload (GSO disabled, no checksum offload requested) and
// returns the descriptor address/length pair that exposes both the
// header and the payload to the device in one contiguous span.
func writeNetHeaderScratch(buf *mempool.Buffer) (addr uint64, length uint32) {
	raw := buf.Raw()
	scratch := raw[len(raw)-buf.Capacity()-headerLen : len(raw)-buf.Capacity()]
	for i := range scratch {
		scratch[i] = gsoNone
	}
	return buf.DataPhysicalAddress() - headerLen, uint32(buf.Size()) + headerLen
}

// RxBatch drains up to n completed receive descriptors, then replenishes
// every empty slot with a fresh buffer so the ring stays full, per 4.8.
func (d *Driver) RxBatch(queueID int, n int) []*mempool.Buffer {
	q := d.queues[queueID]
	ring := q.ring

	out := make([]*mempool.Buffer, 0, n)

	for i := 0; i < n; i++ {
		if q.usedLast == ring.used.index() {
			break
		}

		id, length := ring.used.elemAt(int(q.usedLast))
		slot := int(id)
		desc := descriptor(ring.descs[slot])

		if desc.flags()&descFWrite == 0 {
			log.Printf("virtio: rx used slot %d has unexpected descriptor flags %#x", slot, desc.flags())
		}

		buf := q.buffers[slot]
		buf.SetSize(int(length))
		out = append(out, buf)

		q.buffers[slot] = nil
		desc.reset()

		q.usedLast++
	}

	for slot := 0; slot < q.size; slot++ {
		if descriptor(ring.descs[slot]).addr() != 0 {
			continue
		}

		fresh := q.pool.Get()
		if fresh == nil {
			break
		}

		addr, length := writeNetHeaderScratch(fresh)

		desc := descriptor(ring.descs[slot])
		desc.setAddr(addr)
		desc.setLength(length)
		desc.setFlags(descFWrite)
		desc.setNext(0)

		q.buffers[slot] = fresh

		idx := ring.avail.index()
		ring.avail.setRingAt(int(idx), uint16(slot))
		ring.avail.setIndex(idx + 1)
	}

	d.notify(vqRX)

	d.stats.RXPackets += uint64(len(out))
	for _, b := range out {
		d.stats.RXBytes += uint64(b.Size())
	}

	return out
}

// reclaimTx frees every buffer whose transmission the device has
// acknowledged via the used ring, per 4.9 step 1.
func reclaimTx(q *virtQueue) {
	ring := q.ring
	for q.usedLast != ring.used.index() {
		id, _ := ring.used.elemAt(int(q.usedLast))
		slot := int(id)

		if buf := q.buffers[slot]; buf != nil {
			buf.Free()
			q.buffers[slot] = nil
		}

		desc := descriptor(ring.descs[slot])
		desc.setAddr(0)
		desc.setLength(0)

		q.usedLast++
	}
}

// TxBatch reclaims completed sends and then enqueues as many of buffers
// as there are free descriptor slots, per 4.9 step 2.
func (d *Driver) TxBatch(queueID int, buffers []*mempool.Buffer) int {
	q := d.queues[queueID]
	ring := q.ring

	reclaimTx(q)

	sent := 0
	startIndex := ring.avail.index()

	for _, buf := range buffers {
		slot, ok := q.freeDescriptor()
		if !ok {
			break
		}

		addr, length := writeNetHeaderScratch(buf)

		desc := descriptor(ring.descs[slot])
		desc.setAddr(addr)
		desc.setLength(length)
		desc.setFlags(0)
		desc.setNext(0)

		q.buffers[slot] = buf

		ring.avail.setRingAt(slot, uint16(slot))
		sent++
	}

	if sent > 0 {
		ring.avail.setIndex(startIndex + uint16(sent))
		d.notify(vqTX)

		d.stats.TXPackets += uint64(sent)
		for _, buf := range buffers[:sent] {
			d.stats.TXBytes += uint64(buf.Size())
		}
	}

	return sent
}

// SetPromisc issues the VIRTIO_NET_CTRL_RX / PROMISC command over the
// control queue, per 4.10 and Scenario S6: one 4-byte buffer carved from
// the control pool backs three chained descriptors (header, payload,
// ack).
func (d *Driver) SetPromisc(enabled bool) error {
	q := d.queues[vqCtrl]
	ring := q.ring

	buf := q.pool.Get()
	if buf == nil {
		return errPoolExhausted("control")
	}
	defer buf.Free()

	raw := buf.Raw()
	payloadOffset := len(raw) - buf.Capacity()
	cmd := raw[payloadOffset : payloadOffset+4]
	cmd[0] = ctrlClassRX
	cmd[1] = ctrlCmdRXPromisc
	if enabled {
		cmd[2] = 1
	} else {
		cmd[2] = 0
	}
	cmd[3] = 0

	base := buf.DataPhysicalAddress()

	headerSlot, okH := q.freeDescriptor()
	payloadSlot, okP := q.freeDescriptor()
	ackSlot, okA := q.freeDescriptor()
	if !okH || !okP || !okA {
		return errPoolExhausted("control queue descriptors")
	}

	header := descriptor(ring.descs[headerSlot])
	header.setAddr(base)
	header.setLength(2)
	header.setFlags(descFNext)
	header.setNext(uint16(payloadSlot))

	payload := descriptor(ring.descs[payloadSlot])
	payload.setAddr(base + 2)
	payload.setLength(1)
	payload.setFlags(descFNext)
	payload.setNext(uint16(ackSlot))

	ack := descriptor(ring.descs[ackSlot])
	ack.setAddr(base + 3)
	ack.setLength(1)
	ack.setFlags(descFWrite)
	ack.setNext(0)

	idx := ring.avail.index()
	ring.avail.setRingAt(int(idx), uint16(headerSlot))
	ring.avail.setIndex(idx + 1)

	d.notify(vqCtrl)

	before := ring.used.index()
	for ring.used.index() == before {
		// busy-wait for the device to process the command
	}
	q.usedLast = ring.used.index()

	ackResult := cmd[3]

	header.reset()
	payload.reset()
	ack.reset()

	if ackResult != 0 {
		return errControlCommandFailed
	}
	return nil
}
