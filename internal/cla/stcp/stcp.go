// Package stcp implements the Simple TCP convergence layer: one bundle per
// TCP connection, no handshake, no framing beyond the CBOR array itself.
//
// Grounded on cla/stcp/client.go and cla/stcp/server.go (dtn7-go), adapted
// from their ugorji/go/codec-based Bundle encoding to this module's
// dtn7/cboring-based bpv7.Bundle, and from a persistent-connection client to
// the cla.ConvergenceSender begin/write/end vtable the spec's TX engine
// drives (spec §4.4): one connection per packet, matching STCP's own "one
// bundle per connection" design.
package stcp

import (
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/cla"
)

// DialTimeout bounds how long opening the per-packet connection may take.
const DialTimeout = 5 * time.Second

// Convergable opens one-shot STCP connections to the address given to Open.
type Convergable struct{}

// NewConvergable creates the STCP opener. Every contact using the stcp
// scheme shares the same opener; the address passed to Open is per-contact.
func NewConvergable() *Convergable { return &Convergable{} }

func (Convergable) Open(address string) (cla.ConvergenceSender, error) {
	conn, err := net.DialTimeout("tcp", address, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("stcp: dial %s: %w", address, err)
	}
	return &sender{conn: conn, address: address}, nil
}

// sender is a single STCP connection, good for exactly one SEND — callers
// Open a fresh one for each packet per STCP's design.
type sender struct {
	conn    net.Conn
	address string
}

func (s *sender) Name() string    { return "stcp" }
func (s *sender) Address() string { return s.address }

// BeginPacket is a no-op: STCP carries no explicit length prefix, the CBOR
// indefinite-array framing is itself self-delimiting.
func (s *sender) BeginPacket(size int64) error { return nil }

func (s *sender) Writer() io.Writer { return s.conn }

func (s *sender) EndPacket() error {
	log.WithField("address", s.address).Debug("stcp: packet sent")
	return nil
}

func (s *sender) Close() error { return s.conn.Close() }
