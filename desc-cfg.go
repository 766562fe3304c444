package fabsim

// desc-cfg.go holds the serializable descriptions of a fabric experiment:
// the configuration parameters a fabric is constructed from, a description
// of the topology wiring used for a construction-time connectivity audit,
// and the experiment parameter layer that rewrites configuration values
// selected by attribute matching.  All description structs are pointer-free
// so that they serialize cleanly; serialization to json or to yaml is
// selected based on the extension of the file name given

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"strconv"

	"golang.org/x/exp/slices"
	gpath "gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gopkg.in/yaml.v3"
)

// A FabricCfg gathers every parameter the fabric constructors consume.  The
// struct is treated as immutable once a fabric is built from it, and
// quantities derived from it are computed once at construction and stored
type FabricCfg struct {
	// Name identifies the experiment this configuration drives
	Name string `json:"name" yaml:"name"`

	// Groups lists labels the experiment parameter layer may match against
	Groups []string `json:"groups" yaml:"groups"`

	// NNodes is the number of NPU endpoints in the fabric
	NNodes int `json:"nnodes" yaml:"nnodes"`

	// LinksPerPair is the number of parallel links joining each NPU pair
	// in the mesh topology
	LinksPerPair int `json:"linksperpair" yaml:"linksperpair"`

	// LinksPerNode is the number of physical links joining each NPU to the
	// switch in the star topology
	LinksPerNode int `json:"linkspernode" yaml:"linkspernode"`

	// LinkBundle is the number of physical links bundled into one logical
	// switch port.  It must divide LinksPerNode evenly
	LinkBundle int `json:"linkbundle" yaml:"linkbundle"`

	// PktSizeBytes is the fixed packet size; one cycle is the time one
	// packet occupies one link
	PktSizeBytes int `json:"pktsizebytes" yaml:"pktsizebytes"`

	// LinkBwGbps is the bandwidth of one link, in Gbps
	LinkBwGbps float64 `json:"linkbwgbps" yaml:"linkbwgbps"`

	// HbmBwTbps is the modeled per-NPU HBM bandwidth, in Tbps.  The
	// injection probability is derived from its ratio to link bandwidth
	HbmBwTbps float64 `json:"hbmbwtbps" yaml:"hbmbwtbps"`

	// FifoDepth bounds each NPU output queue
	FifoDepth int `json:"fifodepth" yaml:"fifodepth"`

	// VoqDepth bounds each virtual output queue in the switch
	VoqDepth int `json:"voqdepth" yaml:"voqdepth"`

	// InjectBatch is the number of injection attempts each NPU makes per cycle
	InjectBatch int `json:"injectbatch" yaml:"injectbatch"`

	// LinkLatency is the fixed pipeline latency of one link, in cycles
	LinkLatency int `json:"linklatency" yaml:"linklatency"`

	// XbarLatency is the fixed latency contributed by the crossbar, in cycles
	XbarLatency int `json:"xbarlatency" yaml:"xbarlatency"`

	// EcmpPolicy selects the egress-spreading policy, "independent" or
	// "coordinated"
	EcmpPolicy string `json:"ecmppolicy" yaml:"ecmppolicy"`

	// SimCycles is the experiment length used by the experiment runner
	SimCycles int `json:"simcycles" yaml:"simcycles"`

	// WarmupCycles observations gathered before this cycle may be excluded
	// from reported statistics
	WarmupCycles int `json:"warmupcycles" yaml:"warmupcycles"`

	// HistBins is the number of bins in the reported latency histogram
	HistBins int `json:"histbins" yaml:"histbins"`

	// RngSeed fixes the package master seed; two runs with identical
	// configuration produce identical traffic
	RngSeed uint64 `json:"rngseed" yaml:"rngseed"`
}

// DefaultFabricCfg returns the configuration of the reference system this
// simulator was built to study: sixteen NPUs with 1.6 Tbps of HBM each,
// four 112 Gbps links per mesh pair, four links per NPU into the switch,
// and 512 byte packets
func DefaultFabricCfg() *FabricCfg {
	cfg := new(FabricCfg)
	cfg.Name = "fm16"
	cfg.Groups = []string{}
	cfg.NNodes = 16
	cfg.LinksPerPair = 4
	cfg.LinksPerNode = 4
	cfg.LinkBundle = 1
	cfg.PktSizeBytes = 512
	cfg.LinkBwGbps = 112.0
	cfg.HbmBwTbps = 1.6
	cfg.FifoDepth = 32
	cfg.VoqDepth = 64
	cfg.InjectBatch = 8
	cfg.LinkLatency = 3
	cfg.XbarLatency = 1
	cfg.EcmpPolicy = "independent"
	cfg.SimCycles = 2000
	cfg.WarmupCycles = 200
	cfg.HistBins = 15
	cfg.RngSeed = 42
	return cfg
}

// derivedParams holds the quantities computed from a FabricCfg at fabric
// construction
type derivedParams struct {
	hbmInjectProb float64  // per-attempt injection probability, capped at 1.0
	pktTimeNs     float64  // time one packet occupies one link, in nanoseconds
	portsPerNode  int      // logical switch ports in each NPU's bundle
	ecmpMode      EcmpMode // parsed EcmpPolicy
}

// derived computes the derived quantities.  Call only after validation
func (cfg *FabricCfg) derived() derivedParams {
	var dp derivedParams
	dp.hbmInjectProb = math.Min(1.0, cfg.HbmBwTbps*1000.0/cfg.LinkBwGbps/float64(cfg.NNodes))
	dp.pktTimeNs = float64(cfg.PktSizeBytes) * 8.0 / cfg.LinkBwGbps
	dp.portsPerNode = cfg.LinksPerNode / cfg.LinkBundle
	dp.ecmpMode, _ = ecmpModeFromStr(cfg.EcmpPolicy)
	return dp
}

// validate rejects a configuration that cannot drive a simulation, with a
// description of what is wrong.  Checks shared by both topologies live here;
// the topology constructors add their own
func (cfg *FabricCfg) validate() error {
	errs := []error{}
	if cfg.NNodes < 2 {
		errs = append(errs, fmt.Errorf("fabric needs at least 2 NPUs, have %d", cfg.NNodes))
	}
	if cfg.NNodes&(cfg.NNodes-1) != 0 {
		errs = append(errs, fmt.Errorf("NPU count %d is not a power of two, required by modulo port mapping", cfg.NNodes))
	}
	if cfg.PktSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("packet size %d must be positive", cfg.PktSizeBytes))
	}
	if cfg.LinkBwGbps <= 0.0 {
		errs = append(errs, fmt.Errorf("link bandwidth %f must be positive", cfg.LinkBwGbps))
	}
	if cfg.HbmBwTbps < 0.0 {
		errs = append(errs, fmt.Errorf("HBM bandwidth %f may not be negative", cfg.HbmBwTbps))
	}
	if cfg.FifoDepth < 1 {
		errs = append(errs, fmt.Errorf("output FIFO depth %d must be at least 1", cfg.FifoDepth))
	}
	if cfg.InjectBatch < 1 {
		errs = append(errs, fmt.Errorf("injection batch %d must be at least 1", cfg.InjectBatch))
	}
	if cfg.LinkLatency < 0 || cfg.XbarLatency < 0 {
		errs = append(errs, fmt.Errorf("pipeline latencies may not be negative"))
	}
	if cfg.HistBins < 1 {
		errs = append(errs, fmt.Errorf("histogram bin count %d must be at least 1", cfg.HistBins))
	}
	return ReportErrs(errs)
}

// validateMesh adds the checks the mesh topology requires
func (cfg *FabricCfg) validateMesh() error {
	err := cfg.validate()
	if err != nil {
		return err
	}
	if cfg.LinksPerPair < 1 {
		return fmt.Errorf("mesh needs at least 1 link per NPU pair, have %d", cfg.LinksPerPair)
	}
	return nil
}

// validateSwitched adds the checks the switched-star topology requires
func (cfg *FabricCfg) validateSwitched() error {
	err := cfg.validate()
	if err != nil {
		return err
	}
	errs := []error{}
	if cfg.LinksPerNode < 1 {
		errs = append(errs, fmt.Errorf("star needs at least 1 link per NPU, have %d", cfg.LinksPerNode))
	}
	if cfg.LinkBundle < 1 {
		errs = append(errs, fmt.Errorf("link bundle %d must be at least 1", cfg.LinkBundle))
	}
	if cfg.LinkBundle >= 1 && cfg.LinksPerNode >= 1 && cfg.LinksPerNode%cfg.LinkBundle != 0 {
		errs = append(errs, fmt.Errorf("link bundle %d does not evenly divide the %d links per NPU",
			cfg.LinkBundle, cfg.LinksPerNode))
	}
	if cfg.VoqDepth < 1 {
		errs = append(errs, fmt.Errorf("VOQ depth %d must be at least 1", cfg.VoqDepth))
	}
	if _, known := ecmpModeFromStr(cfg.EcmpPolicy); !known {
		errs = append(errs, fmt.Errorf("unrecognized ECMP policy %s", cfg.EcmpPolicy))
	}
	return ReportErrs(errs)
}

// WriteToFile stores the FabricCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *FabricCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cfg)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
	}

	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	_, werr := f.WriteString(string(bytes[:]))
	f.Close()
	return werr
}

// ReadFabricCfg deserializes a byte slice holding a representation of a
// FabricCfg struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.  A deserialized
// representation is returned, or an error if one is generated from a file
// read or the deserialization
func ReadFabricCfg(filename string, useYAML bool, dict []byte) (*FabricCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := FabricCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// A NpuDesc identifies one endpoint in a topology description
type NpuDesc struct {
	Name   string   `json:"name" yaml:"name"`
	Groups []string `json:"groups" yaml:"groups"`
}

// A SwitchDesc identifies the crossbar switch in a star topology description
type SwitchDesc struct {
	Name  string `json:"name" yaml:"name"`
	Model string `json:"model" yaml:"model"`
}

// A LinkDesc records a wired connection between two named devices, with the
// number of parallel links on that connection
type LinkDesc struct {
	DevA  string `json:"deva" yaml:"deva"`
	DevB  string `json:"devb" yaml:"devb"`
	Count int    `json:"count" yaml:"count"`
}

// A TopoDesc is the serializable description of a fabric's wiring.  The
// fabric constructors generate one from the FabricCfg and audit it before
// simulating; it can also be written out for inspection
type TopoDesc struct {
	Name     string       `json:"name" yaml:"name"`
	Topology string       `json:"topology" yaml:"topology"`
	Npus     []NpuDesc    `json:"npus" yaml:"npus"`
	Switches []SwitchDesc `json:"switches" yaml:"switches"`
	Links    []LinkDesc   `json:"links" yaml:"links"`
}

// npuName generates the unique name for an NPU from its fabric position
func npuName(cfgName string, id int) string {
	return fmt.Sprintf("npu[%d]@%s", id, cfgName)
}

// createMeshTopoDesc builds the wiring description of a full mesh: every
// NPU pair joined by LinksPerPair parallel links
func createMeshTopoDesc(cfg *FabricCfg) *TopoDesc {
	td := new(TopoDesc)
	td.Name = cfg.Name
	td.Topology = "mesh"
	for id := 0; id < cfg.NNodes; id++ {
		td.Npus = append(td.Npus, NpuDesc{Name: npuName(cfg.Name, id), Groups: cfg.Groups})
	}
	for idA := 0; idA < cfg.NNodes; idA++ {
		for idB := idA + 1; idB < cfg.NNodes; idB++ {
			td.Links = append(td.Links,
				LinkDesc{DevA: td.Npus[idA].Name, DevB: td.Npus[idB].Name, Count: cfg.LinksPerPair})
		}
	}
	return td
}

// createStarTopoDesc builds the wiring description of a switched star:
// every NPU joined to the one switch by LinksPerNode links
func createStarTopoDesc(cfg *FabricCfg) *TopoDesc {
	td := new(TopoDesc)
	td.Name = cfg.Name
	td.Topology = "star"
	swName := fmt.Sprintf("xbar@%s", cfg.Name)
	td.Switches = append(td.Switches, SwitchDesc{Name: swName, Model: "sw5809s"})
	for id := 0; id < cfg.NNodes; id++ {
		npu := NpuDesc{Name: npuName(cfg.Name, id), Groups: cfg.Groups}
		td.Npus = append(td.Npus, npu)
		td.Links = append(td.Links, LinkDesc{DevA: npu.Name, DevB: swName, Count: cfg.LinksPerNode})
	}
	return td
}

// WriteToFile stores the TopoDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (td *TopoDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*td)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*td, "", "\t")
	}

	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	_, werr := f.WriteString(string(bytes[:]))
	f.Close()
	return werr
}

// checkConnectivity verifies that the described wiring reaches every NPU
// from every other NPU.  The description is converted into the form the
// graph package uses, each link weighted 1, and a shortest-path tree is
// grown from each NPU; an unreachable peer shows up as an infinite path
// weight.  The audit runs at construction time so that a wiring mistake is
// found before any cycle is simulated
func checkConnectivity(td *TopoDesc) error {
	idByName := make(map[string]int64)
	nxt := int64(0)
	for _, npu := range td.Npus {
		idByName[npu.Name] = nxt
		nxt += 1
	}
	for _, swtch := range td.Switches {
		idByName[swtch.Name] = nxt
		nxt += 1
	}

	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, link := range td.Links {
		idA, presentA := idByName[link.DevA]
		idB, presentB := idByName[link.DevB]
		if !presentA || !presentB {
			return fmt.Errorf("link between %s and %s names an undescribed device", link.DevA, link.DevB)
		}
		if idA == idB {
			return fmt.Errorf("device %s is linked to itself", link.DevA)
		}
		weightedEdge := simple.WeightedEdge{F: simple.Node(idA), T: simple.Node(idB), W: 1.0}
		connGraph.SetWeightedEdge(weightedEdge)
	}

	for _, npu := range td.Npus {
		spTree := gpath.DijkstraFrom(simple.Node(idByName[npu.Name]), connGraph)
		for _, peer := range td.Npus {
			if npu.Name == peer.Name {
				continue
			}
			if math.IsInf(spTree.WeightTo(idByName[peer.Name]), 1) {
				return fmt.Errorf("no path from %s to %s in described topology", npu.Name, peer.Name)
			}
		}
	}
	return nil
}

// A valueStruct type holds three different types a value might have,
// typically only one of these is used, and which one is known by context
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
}

// stringToValueStruct takes a string from an experiment parameter and
// determines whether it is an integer, floating point, boolean, or a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{intValue: 0, floatValue: 0.0, stringValue: "", boolValue: false}

	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		return vs
	}

	if v == "true" || v == "True" {
		vs.boolValue = true
		return vs
	}

	vs.stringValue = v
	return vs
}

// An AttrbStruct names one attribute an experiment parameter must match
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// An ExpParameter rewrites one configuration parameter when its attributes
// match the configuration being built.  A "*" attribute matches anything,
// "name" matches the configuration name, "group" matches any of its groups
type ExpParameter struct {
	ParamObj   string        `json:"paramobj" yaml:"paramobj"`
	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`
	Param      string        `json:"param" yaml:"param"`
	Value      string        `json:"value" yaml:"value"`
}

// An ExpCfg holds the list of parameter rewrites one experiment applies
type ExpCfg struct {
	Name       string         `json:"name" yaml:"name"`
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`
}

// ReadExpCfg deserializes a byte slice holding a representation of an ExpCfg
// struct, reading the named file for the bytes if the slice given is empty
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (xcfg *ExpCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*xcfg)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*xcfg, "", "\t")
	}

	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	_, werr := f.WriteString(string(bytes[:]))
	f.Close()
	return werr
}

// matchCfg decides whether every attribute of the parameter matches the
// configuration.  A wildcard overrides all other attributes
func (param *ExpParameter) matchCfg(cfg *FabricCfg) bool {
	for _, attrb := range param.Attributes {
		if attrb.AttrbName == "*" {
			return true
		}
	}
	for _, attrb := range param.Attributes {
		switch attrb.AttrbName {
		case "name":
			if cfg.Name != attrb.AttrbValue {
				return false
			}
		case "group":
			if !slices.Contains(cfg.Groups, attrb.AttrbValue) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ApplyExpCfg rewrites the parameters of cfg selected by the experiment
// configuration, in the order the rewrites are listed.  A rewrite naming an
// unknown parameter is an error, reported after all rewrites are attempted
func ApplyExpCfg(cfg *FabricCfg, xcfg *ExpCfg) error {
	errs := []error{}
	for _, param := range xcfg.Parameters {
		if param.ParamObj != "Fabric" {
			errs = append(errs, fmt.Errorf("unrecognized parameter object %s", param.ParamObj))
			continue
		}
		if !param.matchCfg(cfg) {
			continue
		}
		vs := stringToValueStruct(param.Value)
		switch param.Param {
		case "fifodepth":
			cfg.FifoDepth = vs.intValue
		case "voqdepth":
			cfg.VoqDepth = vs.intValue
		case "injectbatch":
			cfg.InjectBatch = vs.intValue
		case "linksperpair":
			cfg.LinksPerPair = vs.intValue
		case "linkspernode":
			cfg.LinksPerNode = vs.intValue
		case "linkbundle":
			cfg.LinkBundle = vs.intValue
		case "linklatency":
			cfg.LinkLatency = vs.intValue
		case "xbarlatency":
			cfg.XbarLatency = vs.intValue
		case "ecmppolicy":
			cfg.EcmpPolicy = vs.stringValue
		case "simcycles":
			cfg.SimCycles = vs.intValue
		case "warmupcycles":
			cfg.WarmupCycles = vs.intValue
		case "histbins":
			cfg.HistBins = vs.intValue
		case "rngseed":
			cfg.RngSeed = uint64(vs.intValue)
		case "hbmbwtbps":
			cfg.HbmBwTbps = vs.floatValue
		case "linkbwgbps":
			cfg.LinkBwGbps = vs.floatValue
		default:
			errs = append(errs, fmt.Errorf("unrecognized parameter %s", param.Param))
		}
	}
	return ReportErrs(errs)
}
