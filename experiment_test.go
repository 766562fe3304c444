package fabsim

// experiment_test.go exercises the trace manager and the event-driven
// experiment runner, checking that a run under the event manager lands on
// exactly the same state as stepping the fabric by hand

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceManagerInactive(t *testing.T) {
	tm := CreateTraceManager("idle", false)
	assert.False(t, tm.Active())

	tm.AddName(1, "npu", "node")
	tm.AddTrace(vrtime.SecondsToTime(0.0), 1, CycleTrace{Cycle: 1})
	assert.Empty(t, tm.NameByID)
	assert.Empty(t, tm.Traces)
	assert.False(t, tm.WriteToFile("unused.yaml"))
}

func TestTraceManagerGathers(t *testing.T) {
	tm := CreateTraceManager("gather", true)
	tm.AddName(3, "fm16", "fabric")
	assert.Panics(t, func() { tm.AddName(3, "again", "fabric") })

	tm.AddTrace(vrtime.SecondsToTime(1.5), 3, CycleTrace{Cycle: 10, Delivered: 4})
	tm.AddTrace(vrtime.SecondsToTime(3.0), 3, CycleTrace{Cycle: 20, Delivered: 9})

	require.Len(t, tm.Traces[3], 2)
	assert.Equal(t, 10, tm.Traces[3][0].Cycle)
	assert.InDelta(t, 1.5, tm.Traces[3][0].Time, 1e-9)
	assert.Equal(t, 9, tm.Traces[3][1].Delivered)
}

func TestTraceManagerWriteToFile(t *testing.T) {
	tm := CreateTraceManager("filed", true)
	tm.AddName(1, "fm16", "fabric")
	tm.AddTrace(vrtime.SecondsToTime(0.0), 1, CycleTrace{Cycle: 5})

	fn := filepath.Join(t.TempDir(), "trace.yaml")
	assert.True(t, tm.WriteToFile(fn))
	_, err := os.Stat(fn)
	assert.NoError(t, err)
}

func TestStartExperimentRejections(t *testing.T) {
	cfg := testCfg(4)
	star, err := CreateSwitchedFabric(cfg)
	require.NoError(t, err)

	evtMgr := evtm.New()
	tm := CreateTraceManager(cfg.Name, true)
	_, err = StartExperiment(evtMgr, star, tm, 0)
	assert.Error(t, err)

	cfg = testCfg(4)
	cfg.SimCycles = 0
	star, err = CreateSwitchedFabric(cfg)
	require.NoError(t, err)
	_, err = StartExperiment(evtMgr, star, tm, 10)
	assert.Error(t, err)
}

func TestExperimentMatchesDirectStepping(t *testing.T) {
	cfg := testCfg(4)
	cfg.SimCycles = 100

	star, err := CreateSwitchedFabric(cfg)
	require.NoError(t, err)

	evtMgr := evtm.New()
	tm := CreateTraceManager(cfg.Name, true)
	expt, err := StartExperiment(evtMgr, star, tm, 10)
	require.NoError(t, err)
	assert.False(t, expt.Done())

	evtMgr.Run(1.0)
	assert.True(t, expt.Done())
	assert.Equal(t, cfg.SimCycles, star.Cycle())

	// a snapshot per interval, each carrying the counters of its moment
	assert.Len(t, expt.BwHistory, 10)
	traces := tm.Traces[expt.number]
	require.Len(t, traces, 10)
	assert.Equal(t, cfg.SimCycles, traces[len(traces)-1].Cycle)
	for idx, trace := range traces {
		assert.Equal(t, (idx+1)*10, trace.Cycle)
		assert.InDelta(t, expt.BwHistory[idx], trace.IntvlBw, 1e-9)
		assert.GreaterOrEqual(t, trace.Injected,
			trace.Delivered+trace.Dropped)
	}

	// the same configuration stepped by hand reaches the same state
	direct, err := CreateSwitchedFabric(testCfg(4))
	require.NoError(t, err)
	for cycle := 0; cycle < cfg.SimCycles; cycle++ {
		direct.Step()
	}
	assert.Equal(t, direct.Totals(), star.Totals())
}

func TestExperimentRaggedLastInterval(t *testing.T) {
	cfg := testCfg(4)
	cfg.SimCycles = 25

	mesh, err := CreateMeshFabric(cfg)
	require.NoError(t, err)

	evtMgr := evtm.New()
	tm := CreateTraceManager(cfg.Name, false)
	expt, err := StartExperiment(evtMgr, mesh, tm, 10)
	require.NoError(t, err)

	evtMgr.Run(1.0)
	assert.Equal(t, 25, mesh.Cycle())
	assert.Len(t, expt.BwHistory, 3, "intervals of 10, 10, and 5 cycles")
}
