package bpv7

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Block type codes for the extension blocks this node recognizes, section
// 4.2.3 plus the bpbis-registered extension blocks.
const (
	ExtBlockTypePayloadBlock      uint64 = 1
	ExtBlockTypePreviousNodeBlock uint64 = 6
	ExtBlockTypeBundleAgeBlock    uint64 = 7
	ExtBlockTypeHopCountBlock     uint64 = 10
)

// ExtensionBlock is the payload of a CanonicalBlock: a typed, (un)marshalable
// value.
type ExtensionBlock interface {
	BlockTypeCode() uint64
	MarshalCbor(io.Writer) error
	UnmarshalCbor(io.Reader) error
}

// PayloadBlock carries a bundle's application data unit, or fragment
// thereof. Must be block number 1 and the last block in the bundle.
type PayloadBlock struct {
	data []byte
}

func NewPayloadBlock(data []byte) *PayloadBlock { return &PayloadBlock{data: data} }
func (p *PayloadBlock) Data() []byte            { return p.data }
func (*PayloadBlock) BlockTypeCode() uint64     { return ExtBlockTypePayloadBlock }

func (p *PayloadBlock) MarshalCbor(w io.Writer) error   { return cboring.WriteByteString(p.data, w) }
func (p *PayloadBlock) UnmarshalCbor(r io.Reader) error {
	data, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	p.data = data
	return nil
}

// PreviousNodeBlock records the node ID of the bundle's last forwarder, and
// is stripped by prepare_for_forwarding before the next hop.
type PreviousNodeBlock struct {
	Endpoint EndpointID
}

func NewPreviousNodeBlock(eid EndpointID) *PreviousNodeBlock { return &PreviousNodeBlock{Endpoint: eid} }
func (*PreviousNodeBlock) BlockTypeCode() uint64             { return ExtBlockTypePreviousNodeBlock }
func (b *PreviousNodeBlock) MarshalCbor(w io.Writer) error   { return b.Endpoint.MarshalCbor(w) }
func (b *PreviousNodeBlock) UnmarshalCbor(r io.Reader) error { return b.Endpoint.UnmarshalCbor(r) }

// BundleAgeBlock tracks the bundle's accumulated dwell time in milliseconds,
// updated by prepare_for_forwarding when the source has no accurate clock.
type BundleAgeBlock uint64

func NewBundleAgeBlock(age uint64) *BundleAgeBlock { b := BundleAgeBlock(age); return &b }
func (*BundleAgeBlock) BlockTypeCode() uint64      { return ExtBlockTypeBundleAgeBlock }
func (b *BundleAgeBlock) Age() uint64              { return uint64(*b) }
func (b *BundleAgeBlock) SetAge(age uint64)        { *b = BundleAgeBlock(age) }

func (b *BundleAgeBlock) MarshalCbor(w io.Writer) error { return cboring.WriteUInt(uint64(*b), w) }
func (b *BundleAgeBlock) UnmarshalCbor(r io.Reader) error {
	v, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	*b = BundleAgeBlock(v)
	return nil
}

// HopCountBlock counts forwarding hops against a configured limit.
type HopCountBlock struct {
	Limit uint64
	Count uint64
}

func NewHopCountBlock(limit uint64) *HopCountBlock { return &HopCountBlock{Limit: limit} }
func (*HopCountBlock) BlockTypeCode() uint64        { return ExtBlockTypeHopCountBlock }
func (h *HopCountBlock) IsExceeded() bool           { return h.Count > h.Limit }
func (h *HopCountBlock) Increment()                 { h.Count++ }

func (h *HopCountBlock) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range []uint64{h.Limit, h.Count} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

func (h *HopCountBlock) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("bpv7: hop count block expects array of 2, got %d", n)
	}
	for _, f := range []*uint64{&h.Limit, &h.Count} {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
