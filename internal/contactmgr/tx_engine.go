// Package contactmgr implements the contact manager and, per active
// contact, a TX engine: the per-link serial transmitter described in
// spec §4.4.
//
// Grounded on EpicKiwi/archipel-core's
// components/cla/cla_contact_tx_task.c (cla_contact_tx_task,
// prepare_bundle_for_forwarding, cla_launch_contact_tx_task) and
// dtn7-go's core/core.go handler/cron pattern for the goroutine-and-channel
// shape.
package contactmgr

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/bpv7"
	"github.com/d3tn/bpnode/internal/cla"
	"github.com/d3tn/bpnode/internal/routing"
)

// CommandKind is a TX queue command kind.
type CommandKind int

const (
	CommandSend CommandKind = iota
	CommandFinalize
)

// Command is one entry of a TX engine's bounded FIFO queue.
type Command struct {
	Kind       CommandKind
	Bundle     *bpv7.Bundle
	BundleID   bpv7.BundleID
	ReceivedAt time.Time // for dwell-time bundle-age update
	CLAAddress string
}

// Result reports the outcome of one SEND command back to the bundle
// processor's signaling queue.
type Result struct {
	BundleID   bpv7.BundleID
	CLAAddress string
	Success    bool
}

// txEngineCounter names spawned TX engines for logging only — grounded on
// cla_contact_tx_task.c's unsynchronized module-local `ctr`; resolves Open
// Question 2 with an atomic counter, which is never used as a uniqueness
// key, only a log label.
var txEngineCounter atomic.Uint64

// TXEngine is a single contact's transmitter: a bounded FIFO queue of
// SEND/FINALIZE commands, drained in order, honoring the FIFO ordering
// guarantee of spec §4.4.
type TXEngine struct {
	name    string
	contact *routing.Contact
	sender  cla.ConvergenceSender
	queue   chan Command
	results chan<- Result

	done chan struct{}
}

// NewTXEngine spawns a TX engine for an opened contact link. queueDepth
// bounds the FIFO (spec §5, "bounded blocking FIFO").
func NewTXEngine(contact *routing.Contact, sender cla.ConvergenceSender, queueDepth int, results chan<- Result) *TXEngine {
	n := txEngineCounter.Add(1)
	e := &TXEngine{
		name:    fmt.Sprintf("tx%d", n),
		contact: contact,
		sender:  sender,
		queue:   make(chan Command, queueDepth),
		results: results,
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Enqueue pushes a command onto the bounded FIFO, blocking if full — the
// "push(item, timeout)" primitive of spec §5 collapses here to a plain
// channel send since Go's scheduler already provides the blocking semantics;
// callers needing a timeout wrap this in a select with time.After.
func (e *TXEngine) Enqueue(cmd Command) { e.queue <- cmd }

// Finalize requests the engine drain-and-report then exit, per spec §4.4 and
// §5 ("TX engines are cancelled by enqueueing FINALIZE; they must
// drain-and-report, never drop silently").
func (e *TXEngine) Finalize() {
	e.queue <- Command{Kind: CommandFinalize}
	<-e.done
}

func (e *TXEngine) run() {
	defer close(e.done)

	for cmd := range e.queue {
		if cmd.Kind == CommandFinalize {
			e.drainAndFail()
			return
		}
		e.send(cmd)
	}
}

func (e *TXEngine) send(cmd Command) {
	prepareForForwarding(cmd.Bundle, cmd.ReceivedAt)

	log.WithFields(log.Fields{
		"engine":  e.name,
		"bundle":  cmd.Bundle.ID(),
		"cla":     e.sender.Name(),
		"address": cmd.CLAAddress,
	}).Info("TX: sending bundle")

	ok := e.transmit(cmd)
	e.results <- Result{BundleID: cmd.BundleID, CLAAddress: cmd.CLAAddress, Success: ok}
}

func (e *TXEngine) transmit(cmd Command) bool {
	buf := new(bytes.Buffer)
	if err := cmd.Bundle.MarshalCbor(buf); err != nil {
		log.WithError(err).WithField("engine", e.name).Warn("TX: serialization failed")
		return false
	}

	if err := e.sender.BeginPacket(int64(buf.Len())); err != nil {
		log.WithError(err).WithField("engine", e.name).Warn("TX: begin_packet failed")
		return false
	}
	if _, err := e.sender.Writer().Write(buf.Bytes()); err != nil {
		log.WithError(err).WithField("engine", e.name).Warn("TX: write failed")
		return false
	}
	if err := e.sender.EndPacket(); err != nil {
		log.WithError(err).WithField("engine", e.name).Warn("TX: end_packet failed")
		return false
	}
	return true
}

// drainAndFail implements the FINALIZE path: every remaining queued SEND is
// reported as TRANSMISSION_FAILURE, resolving Open Question 3 (a bundle
// still queued at contact end is discarded, not delivered first).
func (e *TXEngine) drainAndFail() {
	for {
		select {
		case cmd := <-e.queue:
			if cmd.Kind != CommandSend {
				continue
			}
			log.WithFields(log.Fields{
				"engine": e.name,
				"bundle": cmd.Bundle.ID(),
			}).Warn("TX: discarding queued bundle at contact end")
			e.results <- Result{BundleID: cmd.BundleID, CLAAddress: cmd.CLAAddress, Success: false}
		default:
			return
		}
	}
}

// prepareForForwarding strips any Previous-Node block (the next hop will add
// its own, if configured) and advances the Bundle-Age block by the dwell
// time since reception, per BPv7 5.4-4 / RFC 5050 5.4-5.
func prepareForForwarding(b *bpv7.Bundle, receivedAt time.Time) {
	kept := b.CanonicalBlocks[:0]
	for _, cb := range b.CanonicalBlocks {
		if cb.TypeCode() == bpv7.ExtBlockTypePreviousNodeBlock {
			continue
		}
		kept = append(kept, cb)
	}
	b.CanonicalBlocks = kept

	if !receivedAt.IsZero() {
		if ageBlock, err := b.ExtensionBlock(bpv7.ExtBlockTypeBundleAgeBlock); err == nil {
			age := ageBlock.Value.(*bpv7.BundleAgeBlock)
			dwell := uint64(time.Since(receivedAt).Milliseconds())
			age.SetAge(age.Age() + dwell)
		}
	}
}
