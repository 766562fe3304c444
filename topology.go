package fabsim

// topology.go holds the two topology drivers.  Each owns the fabric's NPU
// nodes (and, for the star, the crossbar switch), wires them together with
// delay lines carrying the per-hop pipeline latency, and advances the global
// cycle counter.  Every operation completes within the cycle that invokes
// it: within one cycle injection happens before transmission, transmission
// before delivery of packets whose delay has elapsed, and no queue is
// mutated by more than one phase

import (
	"github.com/iti/rngstream"
)

// FabricTotals is a consistent snapshot of the fabric-wide counters.  At
// every point in time Injected equals Delivered plus Dropped plus the three
// resident counts: packets still queued in NPUs, in flight on a delay line,
// or held in the switch VOQs
type FabricTotals struct {
	Cycle         int // cycles completed
	Injected      int // packets admitted to an NPU output queue
	Delivered     int // packets received at their destination
	Dropped       int // packets refused after admission (switch drops)
	InjectRefused int // injection attempts refused by a full output queue,
	//                   never admitted and so outside the conservation sum
	Queued    int // packets resident in NPU output queues
	InFlight  int // packets resident on delay lines
	Occupancy int // packets resident in switch VOQs, zero for the mesh
	Switched  int // packets granted by the switch arbiter, zero for the mesh
}

// A Fabric is a topology driver: it advances one cycle at a time and exposes
// read-only views of its state.  The two implementations are MeshFabric and
// SwitchedFabric
type Fabric interface {
	// Step advances the fabric by exactly one cycle
	Step()

	// Cycle returns the number of cycles completed
	Cycle() int

	// Cfg returns the configuration the fabric was built from
	Cfg() *FabricCfg

	// Totals returns a snapshot of the fabric-wide counters
	Totals() FabricTotals

	// fabricNodes exposes the node list to the statistics engine
	fabricNodes() []*npuNode

	// params exposes the derived configuration quantities
	params() derivedParams
}

// sumTotals accumulates the per-node counters common to both drivers
func sumTotals(npus []*npuNode) FabricTotals {
	var totals FabricTotals
	for _, npu := range npus {
		totals.Injected += npu.state.pktsInjected
		totals.Delivered += npu.state.pktsDelivered
		totals.InjectRefused += npu.state.injectDrops
		totals.Queued += npu.queuedPkts()
	}
	return totals
}

// A MeshFabric joins every NPU pair directly with LinksPerPair parallel
// links.  A packet's one hop costs the fixed link latency plus a queueing
// approximation: the depth of the sender's output queue observed at send time
type MeshFabric struct {
	cfg    *FabricCfg
	prm    derivedParams
	topo   *TopoDesc
	npus   []*npuNode
	flight delayLine
	cycle  int

	// packets discarded for carrying a self destination.  Legitimate
	// injection never produces one, so a nonzero count flags a caller bug
	invalidDrops int
}

// CreateMeshFabric is a constructor.  It validates the configuration,
// audits the generated wiring for full connectivity, fixes the rng master
// seed, and builds the NPU nodes.  Each NPU has one output port per fabric
// node, selected by destination modulo
func CreateMeshFabric(cfg *FabricCfg) (*MeshFabric, error) {
	err := cfg.validateMesh()
	if err != nil {
		return nil, err
	}

	mesh := new(MeshFabric)
	mesh.cfg = cfg
	mesh.prm = cfg.derived()
	mesh.topo = createMeshTopoDesc(cfg)

	err = checkConnectivity(mesh.topo)
	if err != nil {
		return nil, err
	}

	rngstream.SetRngStreamMasterSeed(cfg.RngSeed)
	mesh.npus = make([]*npuNode, cfg.NNodes)
	for id := 0; id < cfg.NNodes; id++ {
		mesh.npus[id] = createNPUNode(mesh.topo.Npus[id].Name, id, cfg.NNodes, cfg.FifoDepth)
	}
	return mesh, nil
}

// Step advances the mesh by one cycle: every NPU injects, then every NPU
// drains up to LinksPerPair packets per destination port onto the delay
// line, then packets whose arrival cycle has been reached are delivered
func (mesh *MeshFabric) Step() {
	policy := injectPolicy{
		nNodes: mesh.cfg.NNodes, prob: mesh.prm.hbmInjectProb,
		batch: mesh.cfg.InjectBatch, switched: false,
	}
	for _, npu := range mesh.npus {
		npu.inject(mesh.cycle, policy)
	}

	for _, npu := range mesh.npus {
		for port := 0; port < npu.nPorts; port++ {
			sent := 0
			for sent < mesh.cfg.LinksPerPair {
				pkt, present := npu.transmit(port)
				if !present {
					break
				}
				if pkt.Dst == npu.id {
					mesh.invalidDrops += 1
					continue
				}
				// the residual queue depth at send time stands in for
				// per-link buffering delay
				arrival := mesh.cycle + mesh.cfg.LinkLatency + npu.outFIFOs[port].size()
				mesh.flight.add(arrival, pkt, npu.id, port)
				sent += 1
			}
		}
	}

	for _, entry := range mesh.flight.due(mesh.cycle) {
		mesh.npus[entry.pkt.Dst].receive(entry.pkt, mesh.cycle)
	}

	mesh.cycle += 1
	if mesh.cycle == mesh.cfg.WarmupCycles {
		for _, npu := range mesh.npus {
			npu.markWarmup()
		}
	}
}

// Cycle returns the number of cycles completed
func (mesh *MeshFabric) Cycle() int {
	return mesh.cycle
}

// Cfg returns the configuration the fabric was built from
func (mesh *MeshFabric) Cfg() *FabricCfg {
	return mesh.cfg
}

// Topo returns the generated wiring description
func (mesh *MeshFabric) Topo() *TopoDesc {
	return mesh.topo
}

// Totals returns a snapshot of the fabric-wide counters
func (mesh *MeshFabric) Totals() FabricTotals {
	totals := sumTotals(mesh.npus)
	totals.Cycle = mesh.cycle
	totals.Dropped = mesh.invalidDrops
	totals.InFlight = mesh.flight.size()
	return totals
}

func (mesh *MeshFabric) fabricNodes() []*npuNode {
	return mesh.npus
}

func (mesh *MeshFabric) params() derivedParams {
	return mesh.prm
}

// A SwitchedFabric joins every NPU to one crossbar switch.  A packet takes
// two hops, NPU to switch and switch to NPU, each carrying the link
// latency, with the crossbar's fixed latency added on the egress leg
type SwitchedFabric struct {
	cfg      *FabricCfg
	prm      derivedParams
	topo     *TopoDesc
	npus     []*npuNode
	xbar     *crossbar
	toSwitch delayLine
	toNode   delayLine
	cycle    int
}

// CreateSwitchedFabric is a constructor.  It validates the configuration,
// audits the generated star wiring, fixes the rng master seed, and builds
// the NPU nodes and the crossbar.  Each NPU has one output port per logical
// switch port in its bundle, assigned round-robin at injection
func CreateSwitchedFabric(cfg *FabricCfg) (*SwitchedFabric, error) {
	err := cfg.validateSwitched()
	if err != nil {
		return nil, err
	}

	star := new(SwitchedFabric)
	star.cfg = cfg
	star.prm = cfg.derived()
	star.topo = createStarTopoDesc(cfg)

	err = checkConnectivity(star.topo)
	if err != nil {
		return nil, err
	}

	rngstream.SetRngStreamMasterSeed(cfg.RngSeed)
	star.npus = make([]*npuNode, cfg.NNodes)
	for id := 0; id < cfg.NNodes; id++ {
		star.npus[id] = createNPUNode(star.topo.Npus[id].Name, id, star.prm.portsPerNode, cfg.FifoDepth)
	}
	star.xbar = createCrossbar(star.topo.Switches[0].Name,
		cfg.NNodes, star.prm.portsPerNode, cfg.VoqDepth, star.prm.ecmpMode)
	return star, nil
}

// Step advances the star by one cycle.  The phases are: inject, transmit
// onto the ingress delay line, deliver arrivals into the switch VOQs,
// arbitrate, place grants on the egress delay line, and deliver arrivals to
// the NPUs
func (star *SwitchedFabric) Step() {
	policy := injectPolicy{
		nNodes: star.cfg.NNodes, prob: star.prm.hbmInjectProb,
		batch: star.cfg.InjectBatch, switched: true,
	}
	for _, npu := range star.npus {
		npu.inject(star.cycle, policy)
	}

	// each logical port carries one packet per bundled physical link per cycle
	for _, npu := range star.npus {
		for port := 0; port < npu.nPorts; port++ {
			for sent := 0; sent < star.cfg.LinkBundle; sent++ {
				pkt, present := npu.transmit(port)
				if !present {
					break
				}
				star.toSwitch.add(star.cycle+star.cfg.LinkLatency, pkt, npu.id, port)
			}
		}
	}

	for _, entry := range star.toSwitch.due(star.cycle) {
		star.xbar.enqueue(entry.srcNode, entry.portHint, entry.pkt)
	}

	for _, gr := range star.xbar.schedule() {
		arrival := star.cycle + star.cfg.XbarLatency + star.cfg.LinkLatency
		star.toNode.add(arrival, gr.pkt, -1, 0)
	}

	for _, entry := range star.toNode.due(star.cycle) {
		star.npus[entry.pkt.Dst].receive(entry.pkt, star.cycle)
	}

	star.cycle += 1
	if star.cycle == star.cfg.WarmupCycles {
		for _, npu := range star.npus {
			npu.markWarmup()
		}
	}
}

// Cycle returns the number of cycles completed
func (star *SwitchedFabric) Cycle() int {
	return star.cycle
}

// Cfg returns the configuration the fabric was built from
func (star *SwitchedFabric) Cfg() *FabricCfg {
	return star.cfg
}

// Topo returns the generated wiring description
func (star *SwitchedFabric) Topo() *TopoDesc {
	return star.topo
}

// Totals returns a snapshot of the fabric-wide counters
func (star *SwitchedFabric) Totals() FabricTotals {
	totals := sumTotals(star.npus)
	totals.Cycle = star.cycle
	totals.Dropped = star.xbar.drops()
	totals.InFlight = star.toSwitch.size() + star.toNode.size()
	totals.Occupancy = star.xbar.occupancy()
	totals.Switched = star.xbar.state.pktsSwitched
	return totals
}

// Occupancy returns the number of packets resident in the switch VOQs
func (star *SwitchedFabric) Occupancy() int {
	return star.xbar.occupancy()
}

// Drops returns the number of packets the switch refused at admission
func (star *SwitchedFabric) Drops() int {
	return star.xbar.drops()
}

// LoadImbalance reports the egress enqueue-count spread for one destination
// NPU, quantifying ECMP collision effects
func (star *SwitchedFabric) LoadImbalance(dstNode int) EgressLoad {
	return star.xbar.loadImbalance(dstNode)
}

// LoadImbalances reports the egress enqueue-count spread for every NPU
func (star *SwitchedFabric) LoadImbalances() []EgressLoad {
	loads := make([]EgressLoad, star.cfg.NNodes)
	for id := 0; id < star.cfg.NNodes; id++ {
		loads[id] = star.xbar.loadImbalance(id)
	}
	return loads
}

func (star *SwitchedFabric) fabricNodes() []*npuNode {
	return star.npus
}

func (star *SwitchedFabric) params() derivedParams {
	return star.prm
}
