package fabsim

// stats_test.go exercises the statistics engine against hand-planted
// observations, where every expected value can be computed by inspection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietMesh builds a mesh that generates no traffic of its own, so tests
// can plant observations directly in the node state
func quietMesh(t *testing.T, nNodes int) *MeshFabric {
	t.Helper()
	cfg := testCfg(nNodes)
	cfg.HbmBwTbps = 0.0
	mesh, err := CreateMeshFabric(cfg)
	require.NoError(t, err)
	return mesh
}

func TestLatencyStatsExactPercentiles(t *testing.T) {
	mesh := quietMesh(t, 2)
	for lat := 1; lat <= 100; lat++ {
		mesh.npus[0].state.latencies = append(mesh.npus[0].state.latencies, lat)
	}

	ls := GatherLatencyStats(mesh, false)
	assert.Equal(t, 100, ls.Samples)
	assert.InDelta(t, 50.5, ls.Avg, 1e-9)
	assert.InDelta(t, 29.0115, ls.StdDev, 1e-3)
	assert.Equal(t, 51, ls.P50)
	assert.Equal(t, 96, ls.P95)
	assert.Equal(t, 100, ls.P99)
	assert.Equal(t, 100, ls.Max)
}

func TestLatencyStatsEmptyAndSingle(t *testing.T) {
	mesh := quietMesh(t, 2)
	assert.Equal(t, LatencyStats{}, GatherLatencyStats(mesh, false))

	mesh.npus[1].state.latencies = []int{7}
	ls := GatherLatencyStats(mesh, false)
	assert.Equal(t, 1, ls.Samples)
	assert.InDelta(t, 7.0, ls.Avg, 1e-9)
	assert.Equal(t, 0.0, ls.StdDev)
	assert.Equal(t, 7, ls.P50)
	assert.Equal(t, 7, ls.Max)
}

func TestLatencyStatsWarmupExclusion(t *testing.T) {
	mesh := quietMesh(t, 2)
	mesh.npus[0].state.latencies = []int{5, 6, 7, 8}
	mesh.npus[0].state.warmupLats = 2

	ls := GatherLatencyStats(mesh, true)
	assert.Equal(t, 2, ls.Samples)
	assert.InDelta(t, 7.5, ls.Avg, 1e-9)
	assert.Equal(t, 4, GatherLatencyStats(mesh, false).Samples)
}

func TestLatencyHistogramBinning(t *testing.T) {
	mesh := quietMesh(t, 2)
	for lat := 0; lat < 10; lat++ {
		mesh.npus[0].state.latencies = append(mesh.npus[0].state.latencies, lat)
	}

	lh := GatherLatencyHistogram(mesh, 5, false)
	assert.Equal(t, 0, lh.MinLat)
	assert.Equal(t, 9, lh.MaxLat)
	assert.Equal(t, 2, lh.BinWidth)
	assert.Equal(t, []int{2, 2, 2, 2, 2}, lh.Bins)
}

func TestLatencyHistogramDegenerate(t *testing.T) {
	mesh := quietMesh(t, 2)
	assert.Equal(t, LatencyHistogram{}, GatherLatencyHistogram(mesh, 5, false))

	// identical observations collapse to a single bin
	mesh.npus[0].state.latencies = []int{4, 4, 4}
	lh := GatherLatencyHistogram(mesh, 5, false)
	assert.Equal(t, []int{3}, lh.Bins)
	assert.Equal(t, 4, lh.MinLat)
	assert.Equal(t, 4, lh.MaxLat)
}

func TestLatencyHistogramOverflowBin(t *testing.T) {
	mesh := quietMesh(t, 2)
	mesh.npus[0].state.latencies = []int{0, 4, 8, 10}

	// width ceil(10/3) = 4: bins cover [0,4) [4,8) [8,...]
	lh := GatherLatencyHistogram(mesh, 3, false)
	assert.Equal(t, 4, lh.BinWidth)
	assert.Equal(t, []int{1, 1, 2}, lh.Bins)
}

func TestBandwidthStats(t *testing.T) {
	mesh := quietMesh(t, 2)
	mesh.cycle = 100
	mesh.npus[0].state.pktsDelivered = 10
	mesh.npus[0].state.pktsInjected = 12
	mesh.npus[1].state.pktsInjected = 8

	// 10 packets in 100 packet slots is a tenth of one link's bandwidth
	bs := GatherBandwidthStats(mesh, false)
	assert.InDelta(t, mesh.cfg.LinkBwGbps/10.0, bs.AggGbps, 1e-9)
	require.Len(t, bs.PerNodeGbps, 2)
	assert.InDelta(t, mesh.cfg.LinkBwGbps/10.0, bs.PerNodeGbps[0], 1e-9)
	assert.Equal(t, 0.0, bs.PerNodeGbps[1])
	assert.InDelta(t, 0.2, bs.InjectRate, 1e-9)
}

func TestBandwidthStatsWarmupExclusion(t *testing.T) {
	cfg := testCfg(2)
	cfg.HbmBwTbps = 0.0
	cfg.WarmupCycles = 50
	mesh, err := CreateMeshFabric(cfg)
	require.NoError(t, err)

	mesh.cycle = 100
	mesh.npus[0].state.pktsDelivered = 10
	mesh.npus[0].state.warmupDlvrd = 4

	// 6 post-warmup deliveries over the 50 post-warmup cycles
	bs := GatherBandwidthStats(mesh, true)
	assert.InDelta(t, 6.0*mesh.cfg.LinkBwGbps/50.0, bs.AggGbps, 1e-6)
}

func TestBandwidthStatsZeroCycles(t *testing.T) {
	mesh := quietMesh(t, 2)
	bs := GatherBandwidthStats(mesh, false)
	assert.Equal(t, 0.0, bs.AggGbps)
	assert.Equal(t, 0.0, bs.InjectRate)
}

func TestGatherNodeCounts(t *testing.T) {
	mesh := quietMesh(t, 2)
	mesh.npus[0].state.pktsInjected = 5
	mesh.npus[0].state.injectDrops = 2
	mesh.npus[1].state.pktsDelivered = 3
	mesh.npus[1].state.latencies = []int{3, 3, 3}
	require.True(t, mesh.npus[0].outFIFOs[1].push(Packet{Src: 0, Dst: 1}))

	counts := GatherNodeCounts(mesh)
	require.Len(t, counts, 2)
	assert.Equal(t, NodeCounts{ID: 0, Name: mesh.npus[0].name,
		Injected: 5, InjectRefused: 2, Queued: 1}, counts[0])
	assert.Equal(t, 3, counts[1].Delivered)
	assert.Equal(t, 3, counts[1].Samples)
}
