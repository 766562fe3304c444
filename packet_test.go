package fabsim

// packet_test.go exercises the bounded FIFO and the delay line, the two
// holding structures every packet passes through

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPktFIFOBounds(t *testing.T) {
	fifo := createPktFIFO(2)
	assert.True(t, fifo.push(Packet{Seq: 0}))
	assert.True(t, fifo.push(Packet{Seq: 1}))
	assert.False(t, fifo.push(Packet{Seq: 2}), "push to a full queue must be refused")
	assert.Equal(t, 2, fifo.size())

	pkt, present := fifo.pop()
	assert.True(t, present)
	assert.Equal(t, 0, pkt.Seq, "queue must be first-in first-out")

	pkt, present = fifo.pop()
	assert.True(t, present)
	assert.Equal(t, 1, pkt.Seq)

	_, present = fifo.pop()
	assert.False(t, present)
	assert.Equal(t, 0, fifo.size())

	// the refusal freed no room and lost nothing already resident
	assert.True(t, fifo.push(Packet{Seq: 3}))
	assert.Equal(t, 1, fifo.size())
}

func TestDelayLineDelivery(t *testing.T) {
	var dl delayLine

	// added out of arrival order on purpose
	dl.add(5, Packet{Seq: 0}, 0, 0)
	dl.add(3, Packet{Seq: 1}, 0, 0)
	dl.add(5, Packet{Seq: 2}, 1, 1)

	assert.Empty(t, dl.due(2), "nothing arrives before its cycle")
	assert.Equal(t, 3, dl.size())

	arrived := dl.due(3)
	assert.Len(t, arrived, 1)
	assert.Equal(t, 1, arrived[0].pkt.Seq)
	assert.Equal(t, 2, dl.size())

	arrived = dl.due(5)
	assert.Len(t, arrived, 2)
	assert.Equal(t, 0, dl.size())

	// hints survive the trip for the switch to consume
	for _, entry := range arrived {
		if entry.pkt.Seq == 2 {
			assert.Equal(t, 1, entry.srcNode)
			assert.Equal(t, 1, entry.portHint)
		}
	}
}

func TestPacketLatency(t *testing.T) {
	pkt := Packet{Src: 0, Dst: 1, InjectCycle: 10}
	assert.Equal(t, 7, pkt.Latency(17))
	assert.Equal(t, 0, pkt.Latency(10))
}
