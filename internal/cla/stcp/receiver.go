package stcp

import (
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// Receiver listens for inbound STCP connections, decoding one bundle from
// each connection with bpv7.Bundle.UnmarshalCbor — one bundle per
// connection, per STCP's design.
//
// Grounded on cla/stcp/server.go's accept loop, generalized from a fixed
// poll-deadline Accept loop to net.Listener's native blocking Accept, since
// this package does not need server.go's separate stopSyn/stopAck pair: Close
// unblocks Accept directly via listener closure.
type Receiver struct {
	listener net.Listener
	onBundle func(b *bpv7.Bundle, sourceAddr string)
}

// Listen starts an STCP receiver on address, invoking onBundle for every
// fully parsed inbound bundle.
func Listen(address string, onBundle func(b *bpv7.Bundle, sourceAddr string)) (*Receiver, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	r := &Receiver{listener: ln, onBundle: onBundle}
	go r.acceptLoop()
	return r, nil
}

func (r *Receiver) Name() string { return "stcp" }

func (r *Receiver) Close() error { return r.listener.Close() }

func (r *Receiver) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		go r.handleConn(conn)
	}
}

func (r *Receiver) handleConn(conn net.Conn) {
	defer conn.Close()

	var b bpv7.Bundle
	if err := b.UnmarshalCbor(conn); err != nil {
		if err != io.EOF {
			log.WithError(err).WithField("remote", conn.RemoteAddr()).Warn("stcp: parse failed")
		}
		return
	}
	r.onBundle(&b, conn.RemoteAddr().String())
}
