package fabsim

// experiment.go drives a fabric through a complete run under an event
// manager.  Cycles are executed in batches by a self-rescheduling event
// handler: each batch advances the fabric one snapshot interval, records a
// trace snapshot with the delivered bandwidth over the interval, and
// schedules the next batch at the virtual time the interval's packet slots
// occupy.  The caller owns the event manager and starts it running

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// An Experiment carries one fabric through SimCycles cycles.  It is created
// by StartExperiment and observed after the event manager finishes
type Experiment struct {
	fab    Fabric
	tm     *TraceManager
	number int // unique integer id, names this run in the trace
	intvl  int // cycles per batch/snapshot

	lastDelivered int // delivered count at the previous snapshot

	// BwHistory records the delivered bandwidth of each snapshot interval,
	// in Gbps, in interval order
	BwHistory []float64
}

// StartExperiment prepares an experiment over the given fabric and schedules
// its first cycle batch with the event manager at the current virtual time.
// Snapshots land in the trace manager every snapshotIntvl cycles.  The run
// finishes when the fabric reaches its configured SimCycles; the caller then
// reads statistics from the fabric and the trace
func StartExperiment(evtMgr *evtm.EventManager, fab Fabric, tm *TraceManager,
	snapshotIntvl int) (*Experiment, error) {

	if snapshotIntvl < 1 {
		return nil, fmt.Errorf("snapshot interval %d must be at least 1", snapshotIntvl)
	}
	if fab.Cfg().SimCycles < 1 {
		return nil, fmt.Errorf("experiment length %d must be at least 1 cycle", fab.Cfg().SimCycles)
	}

	expt := new(Experiment)
	expt.fab = fab
	expt.tm = tm
	expt.number = nxtID()
	expt.intvl = snapshotIntvl
	expt.BwHistory = make([]float64, 0)

	tm.AddName(expt.number, fab.Cfg().Name, "fabric")

	evtMgr.Schedule(expt, nil, advanceExperiment, vrtime.SecondsToTime(0.0))
	return expt, nil
}

// Done reports whether the fabric has completed its configured run length
func (expt *Experiment) Done() bool {
	return expt.fab.Cycle() >= expt.fab.Cfg().SimCycles
}

// advanceExperiment is the event handler that executes one cycle batch.
// It steps the fabric, records the snapshot, and reschedules itself until
// the configured run length is reached
func advanceExperiment(evtMgr *evtm.EventManager, context any, data any) any {
	expt := context.(*Experiment)
	fab := expt.fab
	cfg := fab.Cfg()
	prm := fab.params()

	batch := expt.intvl
	if remaining := cfg.SimCycles - fab.Cycle(); batch > remaining {
		batch = remaining
	}
	for cyc := 0; cyc < batch; cyc++ {
		fab.Step()
	}

	totals := fab.Totals()
	intvlNs := float64(batch) * prm.pktTimeNs
	intvlBw := float64(totals.Delivered-expt.lastDelivered) *
		float64(cfg.PktSizeBytes) * 8.0 / intvlNs
	expt.lastDelivered = totals.Delivered
	expt.BwHistory = append(expt.BwHistory, intvlBw)

	now := vrtime.SecondsToTime(evtMgr.CurrentSeconds())
	expt.tm.AddTrace(now, expt.number, CycleTrace{
		Cycle:     totals.Cycle,
		Injected:  totals.Injected,
		Delivered: totals.Delivered,
		Dropped:   totals.Dropped,
		InFlight:  totals.InFlight,
		Queued:    totals.Queued,
		Occupancy: totals.Occupancy,
		IntvlBw:   intvlBw,
	})

	if fab.Cycle() < cfg.SimCycles {
		batchSeconds := float64(batch) * prm.pktTimeNs * 1e-9
		evtMgr.Schedule(expt, nil, advanceExperiment, vrtime.SecondsToTime(batchSeconds))
	}
	return nil
}
