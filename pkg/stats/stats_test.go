package stats

import (
	"testing"
	"time"

	"github.com/ixy-go/ixy/pkg/device"
)

func TestBetweenComputesRatesFromCounterDeltas(t *testing.T) {
	start := time.Now()
	prev := Sample{Stats: device.Stats{RXPackets: 0, TXPackets: 0, RXBytes: 0, TXBytes: 0}, At: start}
	cur := Sample{
		Stats: device.Stats{RXPackets: 1_000_000, TXPackets: 500_000, RXBytes: 64_000_000, TXBytes: 32_000_000},
		At:    start.Add(time.Second),
	}

	rates := Between(prev, cur)

	if rates.RXPps != 1_000_000 {
		t.Fatalf("RXPps = %v, want 1000000", rates.RXPps)
	}
	if rates.TXPps != 500_000 {
		t.Fatalf("TXPps = %v, want 500000", rates.TXPps)
	}
	if rates.RXMbps <= 512 {
		t.Fatalf("RXMbps = %v, want > 512 (64MB/s payload plus frame overhead)", rates.RXMbps)
	}
}

func TestBetweenWithZeroElapsedReturnsZeroRates(t *testing.T) {
	at := time.Now()
	prev := Sample{At: at}
	cur := Sample{At: at}

	rates := Between(prev, cur)
	if rates != (Rates{}) {
		t.Fatalf("Between() with zero elapsed time = %+v, want zero value", rates)
	}
}
