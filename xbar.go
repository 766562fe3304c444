package fabsim

// xbar.go holds the run-time representation of the crossbar switch at the
// center of the switched-star topology: a matrix of virtual output queues
// indexed by (ingress port, egress port), a round-robin arbiter per egress
// port, and the ECMP policy that spreads traffic for one destination NPU
// across the bundle of egress ports leading to it

import (
	"gonum.org/v1/gonum/stat"
)

// EcmpMode is the base type for an enumerated type of egress-spreading policies
type EcmpMode int

const (
	// EcmpIndependent gives every (ingress port, destination) pair its own
	// round-robin counter, modeling uncoordinated hardware.  Ingress ports
	// can select the same egress index in the same phase, so hot egress
	// ports are expected under load
	EcmpIndependent EcmpMode = iota

	// EcmpCoordinated shares one round-robin counter per destination among
	// all ingress ports, an idealized central scheduler that spreads load
	// evenly
	EcmpCoordinated
)

// ecmpModeFromStr returns the EcmpMode corresponding to a string name for it
func ecmpModeFromStr(mode string) (EcmpMode, bool) {
	switch mode {
	case "independent", "Independent":
		return EcmpIndependent, true
	case "coordinated", "Coordinated":
		return EcmpCoordinated, true
	}
	return EcmpIndependent, false
}

// ecmpModeToStr returns a string name that corresponds to an input EcmpMode
func ecmpModeToStr(mode EcmpMode) string {
	if mode == EcmpCoordinated {
		return "coordinated"
	}
	return "independent"
}

// A grant reports one packet leaving the switch through an egress port as a
// result of a schedule call
type grant struct {
	dstNode int
	egress  int
	pkt     Packet
}

// A crossbar is the run-time representation of the star topology's switch.
// Logical port p belongs to NPU p/portsPerNode; an NPU's ports are its
// bundle of parallel links to the switch
type crossbar struct {
	name         string
	number       int          // unique integer id across all fabsim objects
	nNodes       int          // NPUs attached to the switch
	portsPerNode int          // logical ports in each NPU's bundle
	nPorts       int          // nNodes * portsPerNode
	mode         EcmpMode     // active egress-spreading policy
	voqs         [][]*pktFIFO // voqs[ingress][egress], each bounded by voqDepth
	state        *xbarState
}

// A xbarState holds the switch counters that evolve during simulation.
// The round-robin counters are the only state the ECMP policies consult,
// so given identical traffic the port assignments are exactly reproducible
type xbarState struct {
	rrPtrs       []int   // per-egress arbiter position
	ingressRR    [][]int // [ingress port][dst node] counters, independent mode
	globalRR     []int   // [dst node] counters, coordinated mode
	egressEnq    []int   // packets ever enqueued toward each egress port
	pktsSwitched int     // packets granted by the arbiter
	voqFullDrops int     // packets refused by a full VOQ
	badDstDrops  int     // packets refused for a self or out-of-range destination
}

// createCrossbar is a constructor.  All counters start at zero; the caller
// has already validated that the port bundling divides evenly
func createCrossbar(name string, nNodes, portsPerNode, voqDepth int, mode EcmpMode) *crossbar {
	xbar := new(crossbar)
	xbar.name = name
	xbar.number = nxtID()
	xbar.nNodes = nNodes
	xbar.portsPerNode = portsPerNode
	xbar.nPorts = nNodes * portsPerNode
	xbar.mode = mode

	xbar.voqs = make([][]*pktFIFO, xbar.nPorts)
	for ingress := 0; ingress < xbar.nPorts; ingress++ {
		xbar.voqs[ingress] = make([]*pktFIFO, xbar.nPorts)
		for egress := 0; egress < xbar.nPorts; egress++ {
			xbar.voqs[ingress][egress] = createPktFIFO(voqDepth)
		}
	}

	xbar.state = new(xbarState)
	xbar.state.rrPtrs = make([]int, xbar.nPorts)
	xbar.state.ingressRR = make([][]int, xbar.nPorts)
	for ingress := 0; ingress < xbar.nPorts; ingress++ {
		xbar.state.ingressRR[ingress] = make([]int, nNodes)
	}
	xbar.state.globalRR = make([]int, nNodes)
	xbar.state.egressEnq = make([]int, xbar.nPorts)
	return xbar
}

// portNode returns the id of the NPU a logical port belongs to
func (xbar *crossbar) portNode(port int) int {
	return port / xbar.portsPerNode
}

// enqueue admits a packet arriving from srcNode into the VOQ matrix.  The
// concrete ingress port comes from the source's port hint; the egress port is
// one of the destination's bundle, picked by the active ECMP policy.  Packets
// destined for the source itself or for a node outside the fabric are
// refused, as are packets whose selected VOQ is full.  The return value
// reports admission; every refusal increments a drop counter
func (xbar *crossbar) enqueue(srcNode, portHint int, pkt Packet) bool {
	if pkt.Dst == srcNode || pkt.Dst < 0 || pkt.Dst >= xbar.nNodes {
		xbar.state.badDstDrops += 1
		return false
	}

	ingress := srcNode*xbar.portsPerNode + portHint%xbar.portsPerNode

	// pick the egress index within the destination's bundle.  Selection is a
	// pure function of the counters, no randomness
	var egressIdx int
	if xbar.mode == EcmpCoordinated {
		egressIdx = xbar.state.globalRR[pkt.Dst]
		xbar.state.globalRR[pkt.Dst] = (egressIdx + 1) % xbar.portsPerNode
	} else {
		egressIdx = xbar.state.ingressRR[ingress][pkt.Dst]
		xbar.state.ingressRR[ingress][pkt.Dst] = (egressIdx + 1) % xbar.portsPerNode
	}
	egress := pkt.Dst*xbar.portsPerNode + egressIdx

	if !xbar.voqs[ingress][egress].push(pkt) {
		xbar.state.voqFullDrops += 1
		return false
	}
	xbar.state.egressEnq[egress] += 1
	return true
}

// schedule performs one cycle of egress arbitration.  Every egress port
// independently scans the ingress ports in round-robin order starting at its
// pointer, skips ingress ports belonging to the destination NPU itself (no
// loopback through the switch), and grants the first non-empty VOQ it finds.
// At most one packet leaves per egress port per cycle; a port that grants
// advances its pointer to one past the granted ingress, a port that finds
// nothing leaves its pointer alone so fairness carries across idle cycles
func (xbar *crossbar) schedule() []grant {
	grants := []grant{}

	for egress := 0; egress < xbar.nPorts; egress++ {
		dstNode := xbar.portNode(egress)
		for offset := 0; offset < xbar.nPorts; offset++ {
			ingress := (xbar.state.rrPtrs[egress] + offset) % xbar.nPorts
			if xbar.portNode(ingress) == dstNode {
				continue
			}
			pkt, present := xbar.voqs[ingress][egress].pop()
			if !present {
				continue
			}
			grants = append(grants, grant{dstNode: dstNode, egress: egress, pkt: pkt})
			xbar.state.rrPtrs[egress] = (ingress + 1) % xbar.nPorts
			xbar.state.pktsSwitched += 1
			break
		}
	}
	return grants
}

// occupancy returns the number of packets resident in the VOQ matrix
func (xbar *crossbar) occupancy() int {
	resident := 0
	for ingress := 0; ingress < xbar.nPorts; ingress++ {
		for egress := 0; egress < xbar.nPorts; egress++ {
			resident += xbar.voqs[ingress][egress].size()
		}
	}
	return resident
}

// drops returns the number of packets the switch refused at admission
func (xbar *crossbar) drops() int {
	return xbar.state.voqFullDrops + xbar.state.badDstDrops
}

// An EgressLoad summarizes how evenly the ECMP policy spread one destination
// NPU's traffic across its bundle of egress ports.  Ratio is Max/Avg: near
// 1.0 under the coordinated policy, measurably above it under independent
// selection when collisions occur
type EgressLoad struct {
	DstNode int
	Min     float64
	Avg     float64
	Max     float64
	StdDev  float64
	Ratio   float64
}

// loadImbalance reports the enqueue-count spread over the destination NPU's
// egress ports.  Read-only; used for reporting
func (xbar *crossbar) loadImbalance(dstNode int) EgressLoad {
	counts := make([]float64, xbar.portsPerNode)
	for idx := 0; idx < xbar.portsPerNode; idx++ {
		counts[idx] = float64(xbar.state.egressEnq[dstNode*xbar.portsPerNode+idx])
	}

	load := EgressLoad{DstNode: dstNode, Min: counts[0], Max: counts[0]}
	for _, cnt := range counts {
		if cnt < load.Min {
			load.Min = cnt
		}
		if cnt > load.Max {
			load.Max = cnt
		}
	}
	load.Avg = stat.Mean(counts, nil)
	if len(counts) > 1 {
		load.StdDev = stat.StdDev(counts, nil)
	}
	if load.Avg > 0.0 {
		load.Ratio = load.Max / load.Avg
	}
	return load
}
