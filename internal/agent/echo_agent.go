package agent

import (
	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// EchoAgent acknowledges every bundle delivered to it with a "pong" reply
// bundle sent back to the ReportTo endpoint.
//
// Grounded on agent/ping_agent.go's PingAgent, generalized from a
// channel-pair handler goroutine to the synchronous Deliver callback the
// spec's agent model uses (spec §4.6: "a callback bound to a sink_id").
type EchoAgent struct {
	sink     bpv7.EndpointID
	Lifetime uint64 // ms

	// Send transmits an outbound bundle via the bundle processor, mirroring
	// how the processor's own outbound path works for locally-originated
	// bundles.
	Send func(b *bpv7.Bundle)
}

// NewEchoAgent creates the echo agent bound to sink.
func NewEchoAgent(sink bpv7.EndpointID, send func(b *bpv7.Bundle)) *EchoAgent {
	return &EchoAgent{sink: sink, Lifetime: 24 * 60 * 60 * 1000, Send: send}
}

func (e *EchoAgent) Sink() bpv7.EndpointID { return e.sink }

func (e *EchoAgent) Deliver(b *bpv7.Bundle) {
	ts := bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0)
	primary := bpv7.NewPrimaryBlock(0, b.PrimaryBlock.ReportTo, e.sink, ts, e.Lifetime)

	payload := bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("pong")))
	hops := bpv7.NewCanonicalBlock(2, 0, bpv7.NewHopCountBlock(64))

	reply, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{hops, payload})
	if err != nil {
		log.WithError(err).Warn("echo agent: building reply bundle failed")
		return
	}

	e.Send(&reply)
}

func (e *EchoAgent) Close() {}
