package fabsim

// stats.go holds the statistics engine: pure read-only functions over a
// fabric that reduce the per-node latency observations and counters to the
// percentiles, histogram, and bandwidth figures a reporter displays.
// Percentiles are exact, computed from the full sorted sample list, so memory
// grows with the number of delivered packets

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LatencyStats summarizes the delivered-packet latency distribution, in cycles
type LatencyStats struct {
	Samples int     // number of observations summarized
	Avg     float64 // mean latency
	StdDev  float64 // standard deviation of latency
	P50     int     // median
	P95     int     // 95th percentile
	P99     int     // 99th percentile
	Max     int     // largest observation
}

// gatherSamples collects latency observations from every node, dropping
// the pre-warmup observations when afterWarmup is set
func gatherSamples(fab Fabric, afterWarmup bool) []int {
	samples := []int{}
	for _, npu := range fab.fabricNodes() {
		lats := npu.state.latencies
		if afterWarmup {
			lats = lats[npu.state.warmupLats:]
		}
		samples = append(samples, lats...)
	}
	return samples
}

// GatherLatencyStats reduces the fabric's latency observations to summary
// statistics.  The zero value is returned when there are no observations
func GatherLatencyStats(fab Fabric, afterWarmup bool) LatencyStats {
	samples := gatherSamples(fab, afterWarmup)
	if len(samples) == 0 {
		return LatencyStats{}
	}

	sort.Ints(samples)
	n := len(samples)

	asFloats := make([]float64, n)
	for idx, lat := range samples {
		asFloats[idx] = float64(lat)
	}

	ls := LatencyStats{Samples: n}
	ls.Avg = stat.Mean(asFloats, nil)
	if n > 1 {
		ls.StdDev = stat.StdDev(asFloats, nil)
	}
	ls.P50 = samples[n/2]
	ls.P95 = samples[int(float64(n)*0.95)]
	ls.P99 = samples[int(float64(n)*0.99)]
	ls.Max = samples[n-1]
	return ls
}

// BandwidthStats reports the delivered and offered traffic rates
type BandwidthStats struct {
	AggGbps     float64   // aggregate delivered bandwidth across the fabric
	PerNodeGbps []float64 // delivered bandwidth at each NPU
	InjectRate  float64   // packets admitted per cycle, fabric-wide
}

// GatherBandwidthStats converts delivered-packet counts into bandwidth using
// the configured packet size and link timing.  When afterWarmup is set the
// warmup window is excluded from both the counts and the elapsed time
func GatherBandwidthStats(fab Fabric, afterWarmup bool) BandwidthStats {
	cfg := fab.Cfg()
	prm := fab.params()

	cycles := fab.Cycle()
	if afterWarmup && fab.Cycle() >= cfg.WarmupCycles {
		cycles = fab.Cycle() - cfg.WarmupCycles
	}

	bs := BandwidthStats{PerNodeGbps: make([]float64, len(fab.fabricNodes()))}
	if cycles == 0 {
		return bs
	}
	elapsedNs := float64(cycles) * prm.pktTimeNs
	pktBits := float64(cfg.PktSizeBytes) * 8.0

	injected := 0
	for idx, npu := range fab.fabricNodes() {
		delivered := npu.state.pktsDelivered
		if afterWarmup && fab.Cycle() >= cfg.WarmupCycles {
			delivered -= npu.state.warmupDlvrd
		}
		bs.PerNodeGbps[idx] = float64(delivered) * pktBits / elapsedNs
		bs.AggGbps += bs.PerNodeGbps[idx]
		injected += npu.state.pktsInjected
	}
	bs.InjectRate = float64(injected) / float64(fab.Cycle())
	return bs
}

// A LatencyHistogram is a fixed-bin-count view of the latency distribution.
// Bins are left-closed with width ceil((max-min)/bins); the last bin absorbs
// anything past the nominal range
type LatencyHistogram struct {
	Bins     []int // observation count per bin
	MinLat   int   // smallest observation
	MaxLat   int   // largest observation
	BinWidth int   // cycles per bin
}

// GatherLatencyHistogram builds the latency histogram with the requested
// number of bins.  With no observations the zero value is returned; when
// every observation is identical a single bin holds them all
func GatherLatencyHistogram(fab Fabric, bins int, afterWarmup bool) LatencyHistogram {
	samples := gatherSamples(fab, afterWarmup)
	if len(samples) == 0 {
		return LatencyHistogram{}
	}

	minLat, maxLat := samples[0], samples[0]
	for _, lat := range samples {
		if lat < minLat {
			minLat = lat
		}
		if lat > maxLat {
			maxLat = lat
		}
	}

	if minLat == maxLat {
		return LatencyHistogram{Bins: []int{len(samples)}, MinLat: minLat, MaxLat: maxLat, BinWidth: 1}
	}

	binWidth := (maxLat - minLat + bins - 1) / bins
	if binWidth < 1 {
		binWidth = 1
	}

	lh := LatencyHistogram{Bins: make([]int, bins), MinLat: minLat, MaxLat: maxLat, BinWidth: binWidth}
	for _, lat := range samples {
		idx := (lat - minLat) / binWidth
		if idx > bins-1 {
			idx = bins - 1
		}
		lh.Bins[idx] += 1
	}
	return lh
}

// NodeCounts is a read-only snapshot of one NPU's counters
type NodeCounts struct {
	ID            int
	Name          string
	Injected      int
	Delivered     int
	InjectRefused int
	Queued        int
	Samples       int
}

// GatherNodeCounts snapshots the per-node counters across the fabric
func GatherNodeCounts(fab Fabric) []NodeCounts {
	npus := fab.fabricNodes()
	counts := make([]NodeCounts, len(npus))
	for idx, npu := range npus {
		counts[idx] = NodeCounts{
			ID: npu.id, Name: npu.name,
			Injected: npu.state.pktsInjected, Delivered: npu.state.pktsDelivered,
			InjectRefused: npu.state.injectDrops, Queued: npu.queuedPkts(),
			Samples: len(npu.state.latencies),
		}
	}
	return counts
}
