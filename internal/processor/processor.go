// Package processor implements the bundle processor: the single-threaded
// central actor of spec §4.5. It is the sole mutator of bundle memory and
// of routing-table capacity reservations; every other component talks to it
// only through its signal queue.
//
// Grounded on core/core.go's handler() select loop and core/processing.go's
// dispatching/receive state machine (dtn7-go), generalized from that
// teacher's CLA-status-channel shape to the signal kinds spec §4.5 names.
package processor

import (
	"bytes"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/agent"
	"github.com/d3tn/bpnode/internal/bpv7"
	"github.com/d3tn/bpnode/internal/contactmgr"
	"github.com/d3tn/bpnode/internal/routing"
	"github.com/d3tn/bpnode/internal/store"
)

// SignalKind enumerates the processor's signal queue entries (spec §4.5).
type SignalKind int

const (
	SignalBundleReceived SignalKind = iota
	SignalTransmissionSuccess
	SignalTransmissionFailure
	SignalAgentRegister
	SignalAgentDeregister
	SignalProcessRouterCommand
	SignalBundleExpired
	SignalCancelBundle
)

// Signal is one entry of the processor's event queue.
type Signal struct {
	Kind SignalKind

	Bundle        *bpv7.Bundle
	BundleID      bpv7.BundleID
	SourceCLAAddr string
	Agent         agent.Agent
	RouterCommand RouterCommand
}

// RouterCommand is a config-agent-issued mutation of the routing table,
// per spec §6.4 / original_source's config_agent.c command dispatch.
type RouterCommand struct {
	Op      RouterOp
	Contact *routing.Contact // AddContact / RemoveContact
	Node    *routing.Node    // UpdateNode
}

type RouterOp int

const (
	RouterOpAddContact RouterOp = iota
	RouterOpRemoveContact
	RouterOpUpdateNode
	RouterOpResetTable
)

// entry is the processor's per-bundle bookkeeping: retry count and whether a
// status report was requested, mirroring the teacher's BundlePack.
type entry struct {
	bundle   *bpv7.Bundle
	contact  *routing.Contact
	priority routing.Priority
	tries    int
	custody  bool
}

const maxRetries = 3

// Processor is the bundle processor: single goroutine draining Signals,
// the sole mutator of its in-flight/deferred bundle maps and the routing
// table's reservations.
type Processor struct {
	nodeID  bpv7.EndpointID
	table   *routing.Table
	router  *routing.Router
	store   *store.Store
	manager *contactmgr.Manager
	agents  *agent.Registry

	inFlight map[bpv7.BundleID]*entry
	deferred map[bpv7.BundleID]*entry

	signals chan Signal
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Processor. queueDepth bounds the signal queue.
func New(nodeID bpv7.EndpointID, table *routing.Table, router *routing.Router, st *store.Store, manager *contactmgr.Manager, agents *agent.Registry, queueDepth int) *Processor {
	return &Processor{
		nodeID:   nodeID,
		table:    table,
		router:   router,
		store:    st,
		manager:  manager,
		agents:   agents,
		inFlight: make(map[bpv7.BundleID]*entry),
		deferred: make(map[bpv7.BundleID]*entry),
		signals:  make(chan Signal, queueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit enqueues a signal, blocking if the queue is full.
func (p *Processor) Submit(s Signal) { p.signals <- s }

// Run is the processor's single event loop goroutine. Blocking only on the
// signal queue, per spec §5's suspension-point rule.
func (p *Processor) Run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case s := <-p.signals:
			p.handle(s)
		}
	}
}

// Stop halts the event loop; signals still queued are not handled and
// in-flight bundles are left as they are.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Processor) handle(s Signal) {
	switch s.Kind {
	case SignalBundleReceived:
		p.bundleReceived(s.Bundle, s.SourceCLAAddr)
	case SignalTransmissionSuccess:
		p.transmissionSuccess(s.BundleID)
	case SignalTransmissionFailure:
		p.transmissionFailure(s.BundleID)
	case SignalAgentRegister:
		if err := p.agents.Register(s.Agent); err != nil {
			log.WithError(err).Warn("processor: agent registration rejected")
		}
	case SignalAgentDeregister:
		p.agents.Deregister(s.Agent)
	case SignalProcessRouterCommand:
		p.processRouterCommand(s.RouterCommand)
	case SignalBundleExpired:
		p.bundleExpired(s.BundleID)
	case SignalCancelBundle:
		p.cancelBundle(s.BundleID)
	default:
		log.WithField("kind", s.Kind).Warn("processor: unknown signal kind")
	}
}

// bundleReceived implements the BUNDLE_RECEIVED row of spec §4.5: validate,
// drop true duplicates, deliver locally, or route onward.
func (p *Processor) bundleReceived(b *bpv7.Bundle, sourceCLAAddr string) {
	if err := b.CheckValid(); err != nil {
		log.WithError(err).Warn("processor: dropping invalid bundle")
		return
	}

	custody := b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDelivery)

	if !custody {
		if _, dup := p.store.FindByExternalID(b.ID()); dup {
			log.WithField("bundle", b.ID()).Debug("processor: dropping duplicate bundle")
			return
		}
	}

	id := p.store.Put(b)

	if p.nodeID.SameNode(b.PrimaryBlock.Destination) {
		p.deliverLocally(id, b)
		return
	}

	p.routeAndEnqueue(id, b, custody)
}

func (p *Processor) deliverLocally(id bpv7.BundleID, b *bpv7.Bundle) {
	a, ok := p.agents.BySink(b.PrimaryBlock.Destination)
	if !ok {
		log.WithField("bundle", b.ID()).Warn("processor: no agent registered for destination, dropping")
		p.store.Delete(id)
		return
	}
	a.Deliver(b)
	p.store.Delete(id)
}

func (p *Processor) routeAndEnqueue(id bpv7.BundleID, b *bpv7.Bundle, custody bool) {
	size := b.PayloadSize()
	var buf bytes.Buffer
	if err := b.MarshalCbor(&buf); err == nil {
		size = int64(buf.Len())
	}
	priority := priorityOf(b)
	expiry := b.PrimaryBlock.CreationTimestamp.DtnTime().Time().Add(
		time.Duration(b.PrimaryBlock.Lifetime) * time.Millisecond)

	result, err := p.router.Route(id, b.PrimaryBlock.Destination, size, priority, expiry)
	if err != nil {
		log.WithError(err).WithField("bundle", b.ID()).Warn("processor: no route, deferring")
		p.deferred[id] = &entry{bundle: b, priority: priority, custody: custody}
		return
	}

	for _, f := range result.Fragments {
		e := &entry{bundle: b, contact: f.Contact, priority: priority, custody: custody}
		p.inFlight[id] = e

		sent := p.manager.Send(f.Contact, contactmgr.Command{
			Kind:       contactmgr.CommandSend,
			Bundle:     b,
			BundleID:   id,
			CLAAddress: f.Contact.CLAAddress,
		})
		if !sent {
			// contact not yet open: hold in deferred until contact start
			p.deferred[id] = e
			delete(p.inFlight, id)
		}
	}
}

// transmissionSuccess implements the TRANSMISSION_SUCCESS row: hold for
// custody signaling, or destroy.
func (p *Processor) transmissionSuccess(id bpv7.BundleID) {
	e, ok := p.inFlight[id]
	if !ok {
		return
	}
	if e.custody {
		log.WithField("bundle", id).Debug("processor: holding for custody signal")
		return
	}
	delete(p.inFlight, id)
	p.store.Delete(id)
}

// transmissionFailure implements the TRANSMISSION_FAILURE row: re-credit
// capacity, retry or give up.
func (p *Processor) transmissionFailure(id bpv7.BundleID) {
	e, ok := p.inFlight[id]
	if !ok {
		return
	}
	delete(p.inFlight, id)
	p.router.CancelSchedule(id)

	e.tries++
	if e.tries >= maxRetries || p.expired(e.bundle) {
		p.generateDeletionReportIfRequested(e.bundle)
		p.store.Delete(id)
		return
	}

	p.routeAndEnqueue(id, e.bundle, e.custody)
	if ne, ok := p.inFlight[id]; ok {
		ne.tries = e.tries
	}
	if ne, ok := p.deferred[id]; ok {
		ne.tries = e.tries
	}
}

func (p *Processor) expired(b *bpv7.Bundle) bool {
	return b.PrimaryBlock.IsLifetimeExceeded()
}

func (p *Processor) generateDeletionReportIfRequested(b *bpv7.Bundle) {
	if !b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) {
		return
	}
	log.WithField("bundle", b.ID()).Info("processor: bundle deleted, status report requested (report generation pending status-report support)")
}

// processRouterCommand implements PROCESS_ROUTER_COMMAND.
func (p *Processor) processRouterCommand(cmd RouterCommand) {
	switch cmd.Op {
	case RouterOpAddContact:
		if cmd.Contact != nil {
			p.table.AddContact(cmd.Contact)
		}
	case RouterOpRemoveContact:
		if cmd.Contact != nil {
			p.table.RemoveContact(cmd.Contact)
		}
	case RouterOpUpdateNode:
		// the table is left unchanged: AddContact creates a node with its
		// EID only, and nothing here records cmd.Node's data; a nil
		// cmd.Node is only logged.
		if cmd.Node == nil {
			log.Warn("processor: update-node command with nil node")
		}
	case RouterOpResetTable:
		p.table.Reset()
	default:
		log.WithField("op", cmd.Op).Warn("processor: unknown router command")
	}
}

// bundleExpired implements BUNDLE_EXPIRED.
func (p *Processor) bundleExpired(id bpv7.BundleID) {
	e, inFlight := p.inFlight[id]
	if !inFlight {
		e = p.deferred[id]
	}
	delete(p.inFlight, id)
	delete(p.deferred, id)
	if e != nil {
		p.generateDeletionReportIfRequested(e.bundle)
	}
	p.store.Delete(id)
}

// cancelBundle implements CANCEL_BUNDLE: best-effort removal from whichever
// set holds the bundle.
func (p *Processor) cancelBundle(id bpv7.BundleID) {
	if _, ok := p.inFlight[id]; ok {
		p.router.CancelSchedule(id)
		delete(p.inFlight, id)
		log.WithField("bundle", id).Info("processor: cancelled in-transit bundle")
	}
	delete(p.deferred, id)
	p.store.Delete(id)
}

// priorityOf derives the routing priority class. BPv7 dropped the v6
// priority field from the primary block; nodes that need priority classes
// signal it out-of-band (e.g. a BPv6-originated bundle converted at the
// gateway, or local agent policy), so absent that this defaults every
// bundle to normal.
func priorityOf(b *bpv7.Bundle) routing.Priority {
	return routing.PriorityNormal
}
