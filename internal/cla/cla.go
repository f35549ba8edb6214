// Package cla defines the convergence-layer adapter interface: the
// begin_packet/write/end_packet/open/close/name vtable of the design notes,
// reexpressed as a Go interface. Grounded on cla/convergence_layer.go.
package cla

import "io"

// ConvergenceSender is the operations a contact's TX engine needs from its
// transport to stream one serialized bundle per packet.
type ConvergenceSender interface {
	// Name identifies the CLA implementation, e.g. "stcp", "rf95", "quiccl".
	Name() string

	// Address is the CLA-specific address of the remote peer this sender
	// talks to (host:port, a serial device, a QUIC stream target).
	Address() string

	// BeginPacket announces the serialized size of the next bundle, some
	// transports use this to frame a length prefix.
	BeginPacket(size int64) error

	// Writer receives the serialized bundle body. The TX engine serializes
	// the whole bundle into memory first and hands it over in a single
	// Write call; it does not stream block by block.
	Writer() io.Writer

	// EndPacket finalizes the current packet.
	EndPacket() error

	// Close releases the sender's resources.
	Close() error
}

// ConvergenceReceiver is the receiving half: each implementation decodes the
// bytes arriving on its link into bundles itself; this interface only
// covers lifecycle.
type ConvergenceReceiver interface {
	Name() string
	Close() error
}

// Convergable is anything a CLA manager can open/close as a contact's link
// comes in and out of its scheduled window.
type Convergable interface {
	Open(address string) (ConvergenceSender, error)
}
