package agent

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// ConfigAgent receives bundles whose payload is a router-command (spec
// §6.4), parses it, and hands the resulting command to the bundle
// processor's PROCESS_ROUTER_COMMAND signal.
//
// Grounded on original_source/components/agents/config_agent.c: the
// AllowRemoteConfiguration policy and the source-prefix check are carried
// over verbatim in spirit (compare node-ID prefixes, drop otherwise).
type ConfigAgent struct {
	sink              bpv7.EndpointID
	localNodeID       string
	AllowRemoteConfig bool
	ParseAndSubmit    func(payload []byte, source bpv7.EndpointID)
}

// NewConfigAgent creates the config agent bound to sink, which receives
// router-command bundles. localNodeID is this node's own node-ID prefix,
// used to reject remote commands when AllowRemoteConfig is false.
func NewConfigAgent(sink bpv7.EndpointID, localNodeID string, allowRemote bool, parseAndSubmit func(payload []byte, source bpv7.EndpointID)) *ConfigAgent {
	return &ConfigAgent{
		sink:              sink,
		localNodeID:       localNodeID,
		AllowRemoteConfig: allowRemote,
		ParseAndSubmit:    parseAndSubmit,
	}
}

func (c *ConfigAgent) Sink() bpv7.EndpointID { return c.sink }

func (c *ConfigAgent) Deliver(b *bpv7.Bundle) {
	if !c.AllowRemoteConfig {
		source := b.PrimaryBlock.SourceNode.NodeID().String()
		if !strings.HasPrefix(source, c.localNodeID) {
			log.WithField("source", source).Warn("config agent: dropped command from foreign endpoint")
			return
		}
	}

	pb, err := b.PayloadBlock()
	if err != nil {
		log.WithError(err).Warn("config agent: bundle has no payload block")
		return
	}
	payload, ok := pb.Value.(*bpv7.PayloadBlock)
	if !ok {
		return
	}

	c.ParseAndSubmit(payload.Data(), b.PrimaryBlock.SourceNode)
}

func (c *ConfigAgent) Close() {}
