package bpv6

import "io"

// PayloadBlock carries the bundle's application data unit, or a fragment
// thereof, identical in purpose to internal/bpv7.PayloadBlock.
type PayloadBlock struct {
	data []byte
}

func NewPayloadBlock(data []byte) *PayloadBlock { return &PayloadBlock{data: data} }
func (p *PayloadBlock) Data() []byte            { return p.data }
func (*PayloadBlock) BlockTypeCode() uint64     { return BlockTypePayload }

func (p *PayloadBlock) MarshalCbor(w io.Writer) error {
	_, err := w.Write(p.data)
	return err
}

func (p *PayloadBlock) UnmarshalCbor(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	p.data = data
	return nil
}

// PreviousHopBlock records the EID of the bundle's last forwarder, RFC-draft
// "Previous Hop Insertion Block" — the BPv6 analogue of internal/bpv7's
// PreviousNodeBlock. The TX engine's prepare-for-forwarding step rewrites
// only the bpv7 block; nothing in the module rewrites this one.
type PreviousHopBlock struct {
	Endpoint EndpointID
}

func NewPreviousHopBlock(eid EndpointID) *PreviousHopBlock { return &PreviousHopBlock{Endpoint: eid} }
func (*PreviousHopBlock) BlockTypeCode() uint64            { return ExtBlockTypePreviousHop }

func (b *PreviousHopBlock) MarshalCbor(w io.Writer) error {
	if err := writeSDNV(uint64(len(b.Endpoint.String())), w); err != nil {
		return err
	}
	_, err := io.WriteString(w, b.Endpoint.String())
	return err
}

func (b *PreviousHopBlock) UnmarshalCbor(r io.Reader) error {
	n, err := readSDNV(r)
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	eid, err := NewEndpointID(string(buf))
	if err != nil {
		return err
	}
	b.Endpoint = eid
	return nil
}

// AgeBlock tracks the bundle's accumulated dwell time in microseconds, the
// BPv6 "Bundle Age Extension" analogue of internal/bpv7's BundleAgeBlock
// (which uses milliseconds).
type AgeBlock uint64

func NewAgeBlock(age uint64) *AgeBlock  { a := AgeBlock(age); return &a }
func (a *AgeBlock) Age() uint64         { return uint64(*a) }
func (a *AgeBlock) SetAge(v uint64)     { *a = AgeBlock(v) }
func (*AgeBlock) BlockTypeCode() uint64 { return ExtBlockTypeAge }

func (a *AgeBlock) MarshalCbor(w io.Writer) error { return writeSDNV(uint64(*a), w) }
func (a *AgeBlock) UnmarshalCbor(r io.Reader) error {
	v, err := readSDNV(r)
	if err != nil {
		return err
	}
	*a = AgeBlock(v)
	return nil
}
