package fabsim

// packet.go declares the traffic unit carried through the simulated fabric,
// the bounded FIFO queues that hold packets at NPU output ports and inside
// the switch, and the delay line that models wire/pipeline latency between
// devices

// A Packet is the immutable unit of traffic.  A packet is owned by whichever
// queue or delay line currently holds it; ownership transfers on
// dequeue/enqueue and is never shared
type Packet struct {
	Src         int // id of the NPU that created the packet
	Dst         int // id of the NPU the packet is addressed to, Dst != Src
	Seq         int // per-source monotonic sequence number
	InjectCycle int // cycle on which the packet was created
}

// Latency reports the number of cycles the packet has been in the system
// as observed at the given cycle
func (pkt Packet) Latency(now int) int {
	return now - pkt.InjectCycle
}

// A pktFIFO is a bounded first-in first-out packet queue.  Arrivals offered
// to a full queue are refused, the caller decides how to account for the loss
type pktFIFO struct {
	depth int
	pkts  []Packet
}

// createPktFIFO is a constructor
func createPktFIFO(depth int) *pktFIFO {
	pf := new(pktFIFO)
	pf.depth = depth
	pf.pkts = make([]Packet, 0, depth)
	return pf
}

// push appends the packet if the queue has room, reporting whether it did
func (pf *pktFIFO) push(pkt Packet) bool {
	if len(pf.pkts) >= pf.depth {
		return false
	}
	pf.pkts = append(pf.pkts, pkt)
	return true
}

// pop removes and returns the queue head.  The second return value is false
// when the queue is empty
func (pf *pktFIFO) pop() (Packet, bool) {
	if len(pf.pkts) == 0 {
		return Packet{}, false
	}
	pkt := pf.pkts[0]
	pf.pkts = pf.pkts[1:]
	return pkt, true
}

// size returns the number of packets resident in the queue
func (pf *pktFIFO) size() int {
	return len(pf.pkts)
}

// An inFlightPkt records a packet traversing a link or the crossbar, along
// with the cycle on which it becomes available at the far end.  srcNode and
// portHint are meaningful only on the NPU-to-switch delay line, where the
// switch needs them to resolve the concrete ingress port
type inFlightPkt struct {
	arrivalCycle int
	pkt          Packet
	srcNode      int
	portHint     int
}

// A delayLine holds packets in flight between devices.  It is a plain list
// rather than a priority queue: entries are checked against the current
// cycle on every advance, and need not be kept in arrival order
type delayLine struct {
	entries []inFlightPkt
}

// add places a packet on the delay line with the given arrival cycle
func (dl *delayLine) add(arrivalCycle int, pkt Packet, srcNode, portHint int) {
	dl.entries = append(dl.entries,
		inFlightPkt{arrivalCycle: arrivalCycle, pkt: pkt, srcNode: srcNode, portHint: portHint})
}

// due removes and returns every entry whose arrival cycle has been reached
func (dl *delayLine) due(now int) []inFlightPkt {
	arrived := []inFlightPkt{}
	remaining := dl.entries[:0]
	for _, entry := range dl.entries {
		if entry.arrivalCycle <= now {
			arrived = append(arrived, entry)
		} else {
			remaining = append(remaining, entry)
		}
	}
	dl.entries = remaining
	return arrived
}

// size returns the number of packets still in flight
func (dl *delayLine) size() int {
	return len(dl.entries)
}
