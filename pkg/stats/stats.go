// Package stats turns the raw, cumulative counters a device.Device reports
// into periodic rates, and can start the debugcharts live debug dashboard.
// That dashboard charts Go runtime metrics; the rates computed here are
// logged only and are not fed to it.
package stats

import (
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/mkevac/debugcharts"

	"github.com/ixy-go/ixy/pkg/device"
)

// Sample is one point-in-time read of a device's counters alongside the
// wall-clock time it was taken, so two samples can be turned into a rate.
type Sample struct {
	Stats device.Stats
	At    time.Time
}

// Rates holds packets-per-second and megabits-per-second computed between
// two samples.
type Rates struct {
	RXPps  float64
	TXPps  float64
	RXMbps float64
	TXMbps float64
}

// Between computes the rates implied by the counter deltas from prev to
// cur. The Ethernet per-frame overhead (20 bytes: 8 bytes preamble/SFD
// plus 12 bytes inter-frame gap) is folded into the byte counters before
// converting to bits.
func Between(prev, cur Sample) Rates {
	elapsed := cur.At.Sub(prev.At).Seconds()
	if elapsed <= 0 {
		return Rates{}
	}

	const frameOverhead = 20

	rxPackets := float64(cur.Stats.RXPackets - prev.Stats.RXPackets)
	txPackets := float64(cur.Stats.TXPackets - prev.Stats.TXPackets)
	rxBytes := float64(cur.Stats.RXBytes-prev.Stats.RXBytes) + rxPackets*frameOverhead
	txBytes := float64(cur.Stats.TXBytes-prev.Stats.TXBytes) + txPackets*frameOverhead

	return Rates{
		RXPps:  rxPackets / elapsed,
		TXPps:  txPackets / elapsed,
		RXMbps: rxBytes * 8 / elapsed / 1e6,
		TXMbps: txBytes * 8 / elapsed / 1e6,
	}
}

// Reporter polls a device on an interval and logs the resulting rates,
// mirroring the reference driver's periodic stats print.
type Reporter struct {
	dev      device.Device
	interval time.Duration
	prev     Sample
}

// NewReporter creates a Reporter that will poll dev every interval,
// starting from a zeroed baseline sample taken now.
func NewReporter(dev device.Device, interval time.Duration) *Reporter {
	var s device.Stats
	dev.ReadStats(&s)
	return &Reporter{dev: dev, interval: interval, prev: Sample{Stats: s, At: time.Now()}}
}

// Run blocks, printing a rate line every interval until stop is closed.
func (r *Reporter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			s := r.prev.Stats
			r.dev.ReadStats(&s)
			cur := Sample{Stats: s, At: t}
			rates := Between(r.prev, cur)
			log.Printf("RX: %.2f Mbit/s %.0f pps | TX: %.2f Mbit/s %.0f pps",
				rates.RXMbps, rates.RXPps, rates.TXMbps, rates.TXPps)
			r.prev = cur
		}
	}
}

// ServeDashboard starts the debugcharts live dashboard on addr (e.g.
// "localhost:8080"); charts are served at /debug/charts/. It returns
// immediately, running the server in the background, and logs (rather
// than returning) a failure to bind since the dashboard is diagnostic
// only and must never block packet processing.
func ServeDashboard(addr string) {
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("stats: debug dashboard on %s: %v", addr, err)
		}
	}()
	fmt.Printf("stats: live dashboard at http://%s/debug/charts/\n", addr)
}
