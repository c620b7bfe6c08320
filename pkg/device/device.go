// Package device defines the driver-independent interface both the ixgbe
// and virtio backends implement, so a forwarding application can be
// written once and run against either NIC family.
package device

import "github.com/ixy-go/ixy/pkg/mempool"

// Stats accumulates the packet and byte counters read_stats folds into on
// every poll. Callers keep their own Stats value across calls so
// self-clearing hardware counters can be turned into a running total.
type Stats struct {
	RXPackets uint64
	TXPackets uint64
	RXBytes   uint64
	TXBytes   uint64
}

// Add accumulates a freshly read delta into the running total.
func (s *Stats) Add(delta Stats) {
	s.RXPackets += delta.RXPackets
	s.TXPackets += delta.TXPackets
	s.RXBytes += delta.RXBytes
	s.TXBytes += delta.TXBytes
}

// Device is the capability set a userspace NIC driver exposes: batched,
// non-blocking RX/TX, promiscuous mode, link speed, and statistics.
type Device interface {
	// RxBatch polls queueID for up to n received packets, returning
	// immediately with however many are ready (possibly zero). It never
	// blocks.
	RxBatch(queueID int, n int) []*mempool.Buffer

	// TxBatch hands as many of buffers to queueID as fit in the ring right
	// now and returns the count actually enqueued. It never blocks.
	TxBatch(queueID int, buffers []*mempool.Buffer) int

	// SetPromisc enables or disables promiscuous mode.
	SetPromisc(enabled bool) error

	// LinkSpeed returns the negotiated link speed in Mbit/s, or 0 if the
	// link is down.
	LinkSpeed() int

	// ReadStats reads the device's hardware counters and folds them into
	// stats. Some counters self-clear on read, so stats accumulates.
	ReadStats(stats *Stats)

	// Close releases the device's resources.
	Close() error
}

// TxBatchBusyWait repeatedly calls TxBatch until every buffer in buffers
// has been accepted by the ring, spinning the CPU between attempts. It is
// the only suspension point besides register polling during bring-up.
func TxBatchBusyWait(d Device, queueID int, buffers []*mempool.Buffer) {
	sent := 0
	for sent < len(buffers) {
		sent += d.TxBatch(queueID, buffers[sent:])
	}
}
