// Command ixy-pktgen transmits a fixed UDP packet at a configurable rate,
// for exercising a device's tx_batch path without a second NIC.
package main

import (
	"context"
	"log"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/time/rate"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/ixy-go/ixy/internal/pciutil"
	"github.com/ixy-go/ixy/pkg/device"
	"github.com/ixy-go/ixy/pkg/ixgbe"
	"github.com/ixy-go/ixy/pkg/mempool"
	"github.com/ixy-go/ixy/pkg/stats"
	"github.com/ixy-go/ixy/pkg/virtio"
)

const batchSize = 64

type options struct {
	PacketsPerSecond int    `long:"pps" description:"target transmit rate in packets per second; 0 means unlimited" default:"0"`
	Dashboard        string `long:"dashboard" description:"address to serve a live stats dashboard on" default:""`

	Args struct {
		PCI string `positional-arg-name:"pci-addr" required:"yes"`
	} `positional-args:"yes"`
}

var (
	srcMAC = tcpip.LinkAddress([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	dstMAC = tcpip.LinkAddress([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02})
	srcIP  = tcpip.Address([]byte{10, 0, 0, 1})
	dstIP  = tcpip.Address([]byte{10, 0, 0, 2})
)

// buildPacket renders a fixed Ethernet/IPv4/UDP frame carrying payload
// into buf, returning the total frame length.
func buildPacket(buf []byte, payload []byte) int {
	const (
		ethHdrLen = header.EthernetMinimumSize
		ipHdrLen  = header.IPv4MinimumSize
		udpHdrLen = header.UDPMinimumSize
	)

	udp := header.UDP(buf[ethHdrLen+ipHdrLen:])
	udp.Encode(&header.UDPFields{
		SrcPort: 42,
		DstPort: 1337,
		Length:  uint16(udpHdrLen + len(payload)),
	})
	copy(buf[ethHdrLen+ipHdrLen+udpHdrLen:], payload)

	ip := header.IPv4(buf[ethHdrLen:])
	ip.Encode(&header.IPv4Fields{
		IHL:         ipHdrLen,
		TotalLength: uint16(ipHdrLen + udpHdrLen + len(payload)),
		TTL:         64,
		Protocol:    uint8(header.UDPProtocolNumber),
		SrcAddr:     srcIP,
		DstAddr:     dstIP,
	})
	ip.SetChecksum(^ip.CalculateChecksum())

	eth := header.Ethernet(buf)
	eth.Encode(&header.EthernetFields{
		SrcAddr: srcMAC,
		DstAddr: dstMAC,
		Type:    header.IPv4ProtocolNumber,
	})

	return ethHdrLen + ipHdrLen + udpHdrLen + len(payload)
}

func openDevice(addr string) (device.Device, error) {
	pciAddr, err := pciutil.ParseAddress(addr)
	if err != nil {
		return nil, err
	}

	cfg, err := pciutil.Open(pciAddr).ReadConfig()
	if err != nil {
		return nil, err
	}

	switch cfg.VendorID {
	case pciutil.VendorIntel:
		return ixgbe.Open(pciAddr, 1, 1)
	case pciutil.VendorVirtIO:
		return virtio.Open(pciAddr)
	default:
		return nil, err
	}
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	dev, err := openDevice(opts.Args.PCI)
	if err != nil {
		log.Fatalf("ixy-pktgen: %v", err)
	}
	defer dev.Close()

	if opts.Dashboard != "" {
		stats.ServeDashboard(opts.Dashboard)
	}

	reporter := stats.NewReporter(dev, time.Second)
	stop := make(chan struct{})
	go reporter.Run(stop)
	defer close(stop)

	pool, err := mempool.Allocate(4096, mempool.DefaultBufferSize)
	if err != nil {
		log.Fatalf("ixy-pktgen: %v", err)
	}

	payload := make([]byte, 18) // pads the frame to the 60-byte Ethernet minimum
	template := pool.Get()
	frameLen := buildPacket(template.Raw()[len(template.Raw())-template.Capacity():], payload)
	template.SetSize(frameLen)

	var limiter *rate.Limiter
	if opts.PacketsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.PacketsPerSecond), opts.PacketsPerSecond)
	}

	log.Printf("ixy-pktgen: transmitting on %s", opts.Args.PCI)

	ctx := context.Background()
	templateFrame := template.Raw()[len(template.Raw())-template.Capacity():]

	for {
		batch := pool.GetMultiple(batchSize)
		if len(batch) == 0 {
			continue
		}
		for _, buf := range batch {
			if limiter != nil {
				limiter.Wait(ctx)
			}
			raw := buf.Raw()
			copy(raw[len(raw)-buf.Capacity():], templateFrame)
			buf.SetSize(frameLen)
		}
		device.TxBatchBusyWait(dev, 0, batch)
	}
}
