package fabsim

// trace.go holds the trace manager, which gathers cycle-indexed snapshots
// of fabric counters during an experiment for post-run analysis

import (
	"encoding/json"
	"os"
	"path"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// A CycleTrace records the fabric-wide counters as they stood at the end of
// one snapshot interval, with the virtual time the snapshot was taken
type CycleTrace struct {
	Time      float64 // virtual time in seconds
	Ticks     int64   // ticks variable of time
	Cycle     int     // cycles completed at the snapshot
	Injected  int     // packets admitted so far
	Delivered int     // packets delivered so far
	Dropped   int     // packets dropped after admission so far
	InFlight  int     // packets on delay lines at the snapshot
	Queued    int     // packets in NPU output queues at the snapshot
	Occupancy int     // packets in switch VOQs at the snapshot
	IntvlBw   float64 // delivered bandwidth over the interval, in Gbps
}

// TraceManager gathers information about a simulation model and an execution
// of that model
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, keyed by the id of the fabric
	// object they observe
	Traces map[int][]CycleTrace `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]CycleTrace)
	return tm
}

// Active tells the caller whether the trace manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a snapshot record against the named object
func (tm *TraceManager) AddTrace(vrt vrtime.Time, objID int, trace CycleTrace) {
	if !tm.InUse {
		return
	}

	trace.Time = vrt.Seconds()
	trace.Ticks = vrt.Ticks()

	_, present := tm.Traces[objID]
	if !present {
		tm.Traces[objID] = make([]CycleTrace, 0)
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()
	return true
}
