// Command ixy-fwd forwards packets between two NIC queues at line rate,
// polling rx_batch on one device and tx_batch on the other (and vice
// versa), with no interrupts or kernel crossings per packet.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/ixy-go/ixy/internal/pciutil"
	"github.com/ixy-go/ixy/pkg/device"
	"github.com/ixy-go/ixy/pkg/ixgbe"
	"github.com/ixy-go/ixy/pkg/stats"
	"github.com/ixy-go/ixy/pkg/virtio"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

const batchSize = 64

type options struct {
	Dashboard     string `long:"dashboard" description:"address to serve a live stats dashboard on, e.g. localhost:8080" default:""`
	StatsInterval int    `long:"stats-interval" description:"seconds between stats log lines" default:"1"`

	Args struct {
		PCI1 string `positional-arg-name:"pci-addr-1" required:"yes"`
		PCI2 string `positional-arg-name:"pci-addr-2" required:"yes"`
	} `positional-args:"yes"`
}

func openDevice(addr string) (device.Device, error) {
	pciAddr, err := pciutil.ParseAddress(addr)
	if err != nil {
		return nil, err
	}

	cfg, err := pciutil.Open(pciAddr).ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("read config for %s: %w", addr, err)
	}

	switch cfg.VendorID {
	case pciutil.VendorIntel:
		return ixgbe.Open(pciAddr, 1, 1)
	case pciutil.VendorVirtIO:
		return virtio.Open(pciAddr)
	default:
		return nil, fmt.Errorf("%s: unsupported vendor id %#x", addr, cfg.VendorID)
	}
}

// swapMACs exchanges the Ethernet source and destination address fields
// in place (the first 12 bytes of the frame: 6 bytes destination, then
// 6 bytes source), so a forwarded frame appears to originate from the
// interface that last held it rather than its original sender.
func swapMACs(frame []byte) {
	const macLen = 6
	if len(frame) < 2*macLen {
		return
	}
	for i := 0; i < macLen; i++ {
		frame[i], frame[macLen+i] = frame[macLen+i], frame[i]
	}
}

func forward(from, to device.Device, queueID int) {
	buffers := from.RxBatch(queueID, batchSize)
	if len(buffers) == 0 {
		return
	}
	for _, buf := range buffers {
		swapMACs(buf.Data())
	}
	device.TxBatchBusyWait(to, queueID, buffers)
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	dev1, err := openDevice(opts.Args.PCI1)
	if err != nil {
		log.Fatalf("ixy-fwd: %v", err)
	}
	defer dev1.Close()

	dev2, err := openDevice(opts.Args.PCI2)
	if err != nil {
		log.Fatalf("ixy-fwd: %v", err)
	}
	defer dev2.Close()

	if opts.Dashboard != "" {
		stats.ServeDashboard(opts.Dashboard)
	}

	reporter1 := stats.NewReporter(dev1, secondsToDuration(opts.StatsInterval))
	reporter2 := stats.NewReporter(dev2, secondsToDuration(opts.StatsInterval))
	stop := make(chan struct{})
	go reporter1.Run(stop)
	go reporter2.Run(stop)
	defer close(stop)

	log.Printf("ixy-fwd: forwarding %s <-> %s", opts.Args.PCI1, opts.Args.PCI2)

	for {
		forward(dev1, dev2, 0)
		forward(dev2, dev1, 0)
	}
}
