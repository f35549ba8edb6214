package bpv7

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/dtn7/cboring"
)

// State names the incremental parser's position in the bundle grammar, per
// the state machine in section 4.1:
// START -> PRIMARY_LEN -> PRIMARY_FIELDS -> BLOCK_HEADER -> BLOCK_CRC_OR_BODY -> {BLOCK_HEADER|END}.
type State int

const (
	StateStart State = iota
	StatePrimaryLen
	StatePrimaryFields
	StateBlockHeader
	StateBlockCRCOrBody
	StateEnd
	StateError
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StatePrimaryLen:
		return "PRIMARY_LEN"
	case StatePrimaryFields:
		return "PRIMARY_FIELDS"
	case StateBlockHeader:
		return "BLOCK_HEADER"
	case StateBlockCRCOrBody:
		return "BLOCK_CRC_OR_BODY"
	case StateEnd:
		return "END"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// bundleQueue is an unbounded byte queue a Parser blocks on when it needs
// more bytes than have been pushed so far. It implements io.Reader so the
// existing Bundle (Un)MarshalCbor machinery can be driven incrementally:
// Read blocks until enough bytes are available or the queue is closed.
type bundleQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBundleQueue() *bundleQueue {
	q := &bundleQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends bytes of arbitrary size, as delivered by a convergence-layer
// receiver, and wakes any blocked reader.
func (q *bundleQueue) Push(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.Write(p)
	q.cond.Broadcast()
}

// Close signals that no more bytes will ever be pushed; blocked reads return
// io.EOF once the buffered bytes are drained.
func (q *bundleQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *bundleQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.buf.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.buf.Len() == 0 {
		return 0, io.EOF
	}
	return q.buf.Read(p)
}

// Parser is a restartable incremental BPv7 parser. Callers Push byte buffers
// of arbitrary size as they arrive from a convergence layer; once a complete
// bundle has been framed, a goroutine reading via Bundles() receives it (or
// a parse error) and the parser automatically resets for the next bundle on
// the same stream, matching the "stream of bundles on a CLA link" contract.
type Parser struct {
	queue   *bundleQueue
	state   State
	bundles chan ParseResult
}

type ParseResult struct {
	bundle *Bundle
	err    error
}

// NewParser creates a Parser reading bundles from a pushed byte stream.
func NewParser() *Parser {
	p := &Parser{
		queue:   newBundleQueue(),
		state:   StateStart,
		bundles: make(chan ParseResult, 1),
	}
	go p.run()
	return p
}

// Push feeds received bytes into the parser. It never blocks the caller on
// parse progress; the queue buffers internally.
func (p *Parser) Push(data []byte) { p.queue.Push(data) }

// Close indicates the underlying link has closed; any in-progress bundle is
// reported as a parse error.
func (p *Parser) Close() { p.queue.Close() }

// State reports the parser's current position, mainly for diagnostics;
// after a successfully parsed bundle it passes through StateEnd and
// StateStart and then waits in StatePrimaryLen for the next one.
func (p *Parser) State() State { return p.state }

// Bundles returns the channel on which parsed bundles (or terminal parse
// errors) are delivered, one per completed frame.
func (p *Parser) Bundles() <-chan ParseResult { return p.bundles }

// Next blocks for the next fully parsed bundle or a parse error. Once
// StateError is reached the parser no longer produces further bundles;
// construct a new Parser to recover, per the design note that ERROR only
// exits via an explicit reset.
func (p *Parser) Next() (*Bundle, error) {
	r, ok := <-p.bundles
	if !ok {
		return nil, io.EOF
	}
	return r.bundle, r.err
}

func (p *Parser) run() {
	defer close(p.bundles)

	for {
		p.state = StateStart
		b, err := p.parseOne()
		if err == io.EOF && b == nil {
			return
		}

		if err != nil {
			err = fmt.Errorf("bpv7: parse error in state %v: %w", p.state, err)
			p.state = StateError
			p.bundles <- ParseResult{err: err}
			return
		}

		p.state = StateEnd
		p.bundles <- ParseResult{bundle: b}
	}
}

// parseOne drives one full bundle through the PRIMARY_LEN/PRIMARY_FIELDS/
// BLOCK_HEADER/BLOCK_CRC_OR_BODY states, reading from the push queue.
func (p *Parser) parseOne() (*Bundle, error) {
	p.state = StatePrimaryLen
	if err := cboring.ReadExpect(cboring.IndefiniteArray, p.queue); err != nil {
		return nil, err
	}

	p.state = StatePrimaryFields
	var b Bundle
	if err := b.PrimaryBlock.UnmarshalCbor(p.queue); err != nil {
		return nil, fmt.Errorf("primary block: %w", err)
	}

	for {
		p.state = StateBlockHeader
		var cb CanonicalBlock
		err := cb.UnmarshalCbor(p.queue)
		if err == cboring.FlagBreakCode {
			break
		} else if err != nil {
			return nil, fmt.Errorf("canonical block: %w", err)
		}

		p.state = StateBlockCRCOrBody
		b.CanonicalBlocks = append(b.CanonicalBlocks, cb)
	}

	if err := b.CheckValid(); err != nil {
		return nil, err
	}

	return &b, nil
}
