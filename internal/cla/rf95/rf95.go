// Package rf95 implements a convergence layer over a rf95modem LoRa radio,
// one bundle (possibly MTU-fragmented by rf95modem's own link layer) per
// send/receive call.
//
// Grounded on pkg/cla/bbc/modem_rf95.go's Rf95Modem (dtn7-go), which wraps
// github.com/dtn7/rf95modem-go/rf95 — that library owns the serial
// transport (tarm/serial) and the modem's own fragmentation; this package
// only adapts it to cla.ConvergenceSender/Convergable.
package rf95

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/rf95modem-go/rf95"

	"github.com/d3tn/bpnode/internal/bpv7"
	"github.com/d3tn/bpnode/internal/cla"
)

// Convergable opens a rf95modem device for outbound sends. LoRa contacts in
// this deployment shape share one radio, so address is the serial device
// path (e.g. "/dev/ttyUSB0"), constant across contacts using this scheme.
type Convergable struct {
	device string
}

func NewConvergable(device string) *Convergable { return &Convergable{device: device} }

func (c *Convergable) Open(address string) (cla.ConvergenceSender, error) {
	m, err := rf95.OpenSerial(c.device)
	if err != nil {
		return nil, fmt.Errorf("rf95: opening %s: %w", c.device, err)
	}
	return &sender{modem: m, address: address}, nil
}

type sender struct {
	modem   *rf95.Modem
	address string
	buf     bytes.Buffer
}

func (s *sender) Name() string    { return "rf95" }
func (s *sender) Address() string { return s.address }

func (s *sender) BeginPacket(size int64) error {
	s.buf.Reset()
	return nil
}

func (s *sender) Writer() io.Writer { return &s.buf }

// EndPacket flushes the buffered serialized bundle through the modem in one
// write, relying on rf95modem-go's own fragmentation for payloads larger
// than the radio's MTU.
func (s *sender) EndPacket() error {
	_, err := s.modem.Write(s.buf.Bytes())
	return err
}

func (s *sender) Close() error { return s.modem.Close() }

// Receiver reads complete bundles off the modem, one Read per MTU-sized
// frame reassembled by rf95modem-go.
type Receiver struct {
	modem *rf95.Modem
}

func NewReceiver(device string) (*Receiver, error) {
	m, err := rf95.OpenSerial(device)
	if err != nil {
		return nil, err
	}
	return &Receiver{modem: m}, nil
}

func (r *Receiver) Name() string { return "rf95" }
func (r *Receiver) Close() error { return r.modem.Close() }

// ReadBundle blocks for the next complete frame and parses it as a bundle.
func (r *Receiver) ReadBundle() (*bpv7.Bundle, error) {
	mtu, err := r.modem.Mtu()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, mtu)
	n, err := r.modem.Read(buf)
	if err != nil {
		return nil, err
	}

	var b bpv7.Bundle
	if err := b.UnmarshalCbor(bytes.NewReader(buf[:n])); err != nil {
		return nil, fmt.Errorf("rf95: parsing frame: %w", err)
	}
	return &b, nil
}
