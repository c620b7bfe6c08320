package ixgbe

import (
	"testing"

	"github.com/ixy-go/ixy/internal/mmio"
	"github.com/ixy-go/ixy/pkg/device"
)

func TestLinkSpeedDecoding(t *testing.T) {
	cases := []struct {
		links uint32
		want  int
	}{
		{0, 0},
		{linksUp | linksSpeed100, 100},
		{linksUp | linksSpeed1G, 1000},
		{linksUp | linksSpeed10G, 10000},
	}

	for _, c := range cases {
		reg := mmio.New(make([]byte, 0x10000))
		reg.Set(regLINKS, c.links)
		d := &Driver{reg: reg}
		if got := d.LinkSpeed(); got != c.want {
			t.Fatalf("LinkSpeed() with links=%#x = %d, want %d", c.links, got, c.want)
		}
	}
}

func TestSetPromiscTogglesFCTRLBits(t *testing.T) {
	reg := mmio.New(make([]byte, 0x10000))
	d := &Driver{reg: reg}

	d.SetPromisc(true)
	if got := reg.Get(regFCTRL); got&(fctrlMPE|fctrlUPE) != fctrlMPE|fctrlUPE {
		t.Fatalf("FCTRL = %#x after enabling promisc, want MPE|UPE set", got)
	}

	d.SetPromisc(false)
	if got := reg.Get(regFCTRL); got&(fctrlMPE|fctrlUPE) != 0 {
		t.Fatalf("FCTRL = %#x after disabling promisc, want MPE|UPE clear", got)
	}
}

func TestReadStatsAccumulatesAcrossCalls(t *testing.T) {
	reg := mmio.New(make([]byte, 0x10000))
	reg.Set(regGPRC, 10)
	reg.Set(regGPTC, 5)
	d := &Driver{reg: reg}

	var stats device.Stats
	d.ReadStats(&stats)
	d.ReadStats(&stats)

	if stats.RXPackets != 20 || stats.TXPackets != 10 {
		t.Fatalf("stats after two reads = %+v, want RXPackets=20 TXPackets=10", stats)
	}
}
