package fabsim

// node.go holds the run-time representation of an NPU endpoint: HBM-rate
// limited packet injection, one bounded FIFO per output port, and the
// counters and latency observations the statistics engine reads

import (
	"github.com/iti/rngstream"
)

// A npuNode models one traffic-generating/consuming endpoint.  Every cycle
// the topology driver calls inject, then transmit on each port, and delivers
// arriving packets through receive.  All mutation happens within those calls
type npuNode struct {
	name     string               // unique name, generated from the node id
	id       int                  // position of the node in the fabric, 0..nNodes-1
	number   int                  // unique integer id across all fabsim objects
	nPorts   int                  // number of output ports
	outFIFOs []*pktFIFO           // one bounded queue per output port
	rngstrm  *rngstream.RngStream // the node's private source of randomness
	state    *npuState            // counters and observations
}

// A npuState holds the node counters that evolve during simulation
type npuState struct {
	seq           int   // next sequence number handed to an injected packet
	pktsInjected  int   // packets admitted to an output queue
	pktsDelivered int   // packets received at this node
	injectDrops   int   // injection attempts refused by a full output queue
	nxtPort       int   // round-robin ingress port assignment, switched mode
	latencies     []int // per-delivered-packet latency, in cycles
	warmupLats    int   // latency samples recorded before the warmup mark
	warmupDlvrd   int   // packets delivered before the warmup mark
}

// injectPolicy carries the injection parameters a node needs each cycle.
// They are derived once at fabric construction and never change
type injectPolicy struct {
	nNodes   int     // number of NPUs in the fabric, bounds destination choice
	prob     float64 // probability an injection attempt creates a packet
	batch    int     // injection attempts per cycle
	switched bool    // true selects round-robin port assignment, false dst modulo
}

// createNPUNode is a constructor.  The node's rng stream is created by name,
// so the stream sequence (and hence the traffic) is fixed by the package
// master seed set during fabric construction
func createNPUNode(name string, id, nPorts, fifoDepth int) *npuNode {
	npu := new(npuNode)
	npu.name = name
	npu.id = id
	npu.number = nxtID()
	npu.nPorts = nPorts
	npu.outFIFOs = make([]*pktFIFO, nPorts)
	for idx := 0; idx < nPorts; idx++ {
		npu.outFIFOs[idx] = createPktFIFO(fifoDepth)
	}
	npu.rngstrm = rngstream.New(name)
	npu.state = new(npuState)
	npu.state.latencies = make([]int, 0)
	return npu
}

// inject makes up to policy.batch attempts to create traffic on the given
// cycle.  Each attempt passes with probability policy.prob, picks a uniformly
// random destination other than the node itself, and offers the packet to the
// output queue the routing policy selects.  A refusal by a full queue drops
// the packet: it is counted in injectDrops and not in pktsInjected
func (npu *npuNode) inject(cycle int, policy injectPolicy) {
	for attempt := 0; attempt < policy.batch; attempt++ {
		if npu.rngstrm.RandU01() > policy.prob {
			continue
		}

		dst := npu.id
		for dst == npu.id {
			dst = npu.rngstrm.RandInt(0, policy.nNodes-1)
		}

		pkt := Packet{Src: npu.id, Dst: dst, Seq: npu.state.seq, InjectCycle: cycle}
		npu.state.seq += 1

		var port int
		if policy.switched {
			port = npu.state.nxtPort
			npu.state.nxtPort = (npu.state.nxtPort + 1) % npu.nPorts
		} else {
			port = dst % npu.nPorts
		}

		if npu.outFIFOs[port].push(pkt) {
			npu.state.pktsInjected += 1
		} else {
			npu.state.injectDrops += 1
		}
	}
}

// transmit pops and returns the head of the named output queue.  The second
// return value is false when the queue is empty.  Non-blocking, O(1)
func (npu *npuNode) transmit(port int) (Packet, bool) {
	return npu.outFIFOs[port].pop()
}

// receive records the delivery of a packet to this node, observing its
// latency against the current cycle.  Never fails
func (npu *npuNode) receive(pkt Packet, cycle int) {
	npu.state.pktsDelivered += 1
	npu.state.latencies = append(npu.state.latencies, pkt.Latency(cycle))
}

// queuedPkts returns the number of packets resident across the node's
// output queues, used by the conservation audit
func (npu *npuNode) queuedPkts() int {
	queued := 0
	for _, fifo := range npu.outFIFOs {
		queued += fifo.size()
	}
	return queued
}

// markWarmup remembers how many observations were gathered before the warmup
// boundary, so the statistics engine can exclude them
func (npu *npuNode) markWarmup() {
	npu.state.warmupLats = len(npu.state.latencies)
	npu.state.warmupDlvrd = npu.state.pktsDelivered
}
