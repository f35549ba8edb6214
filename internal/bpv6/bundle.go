package bpv6

import (
	"fmt"
	"io"
)

// Bundle is the in-memory representation of a parsed or constructed BPv6
// bundle, structurally mirroring internal/bpv7.Bundle.
type Bundle struct {
	PrimaryBlock    PrimaryBlock
	CanonicalBlocks []CanonicalBlock
}

// NewBundle assembles and validates a Bundle, marking the final canonical
// block BlockLastBlock per section 4.4.
func NewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) (Bundle, error) {
	b := MustNewBundle(primary, canonicals)
	return b, b.CheckValid()
}

func MustNewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) Bundle {
	if len(canonicals) > 0 {
		canonicals[len(canonicals)-1].BlockControlFlags |= BlockLastBlock
	}
	return Bundle{PrimaryBlock: primary, CanonicalBlocks: canonicals}
}

// PayloadBlock returns the bundle's payload block.
func (b *Bundle) PayloadBlock() (*CanonicalBlock, error) {
	for i := range b.CanonicalBlocks {
		if b.CanonicalBlocks[i].TypeCode() == BlockTypePayload {
			return &b.CanonicalBlocks[i], nil
		}
	}
	return nil, fmt.Errorf("bpv6: no payload block")
}

// PayloadSize mirrors internal/bpv7.Bundle.PayloadSize: the length of the
// payload block's data, or 0 when there is none.
func (b *Bundle) PayloadSize() int64 {
	cb, err := b.PayloadBlock()
	if err != nil {
		return 0
	}
	pb, ok := cb.Value.(*PayloadBlock)
	if !ok {
		return 0
	}
	return int64(len(pb.Data()))
}

// ID returns the bundle's external identity, identical in composition to
// internal/bpv7.Bundle.ID (source, creation timestamp, fragment offset).
func (b Bundle) ID() string {
	id := fmt.Sprintf("%v-%d-%d", b.PrimaryBlock.SourceNode,
		b.PrimaryBlock.CreationTimestamp.Time, b.PrimaryBlock.CreationTimestamp.SequenceNo)
	if b.PrimaryBlock.ProcFlags.Has(IsFragment) {
		id += fmt.Sprintf("-%d", b.PrimaryBlock.FragmentOffset)
	}
	return id
}

func (b Bundle) String() string { return b.ID() }

func (b Bundle) CheckValid() error {
	if err := b.PrimaryBlock.CheckValid(); err != nil {
		return err
	}
	if len(b.CanonicalBlocks) == 0 {
		return fmt.Errorf("bpv6: bundle has no canonical blocks")
	}
	if _, err := b.PayloadBlock(); err != nil {
		return err
	}
	if !b.CanonicalBlocks[len(b.CanonicalBlocks)-1].BlockControlFlags.Has(BlockLastBlock) {
		return fmt.Errorf("bpv6: last canonical block is not flagged last-block")
	}
	return nil
}

// MarshalCbor writes the bundle: primary block followed by each canonical
// block in turn, ending at the block flagged BlockLastBlock. Named to match
// internal/bpv7's method; the TX engine and store handle bpv7 bundles only.
func (b *Bundle) MarshalCbor(w io.Writer) error {
	if err := b.PrimaryBlock.MarshalCbor(w); err != nil {
		return fmt.Errorf("bpv6: marshalling primary block failed: %w", err)
	}
	for i := range b.CanonicalBlocks {
		if err := b.CanonicalBlocks[i].MarshalCbor(w); err != nil {
			return fmt.Errorf("bpv6: marshalling canonical block failed: %w", err)
		}
	}
	return nil
}

// UnmarshalCbor reads one complete bundle: a primary block followed by
// canonical blocks until one is flagged BlockLastBlock.
func (b *Bundle) UnmarshalCbor(r io.Reader) error {
	if err := b.PrimaryBlock.UnmarshalCbor(r); err != nil {
		return fmt.Errorf("bpv6: unmarshalling primary block failed: %w", err)
	}
	for {
		var cb CanonicalBlock
		if err := cb.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv6: unmarshalling canonical block failed: %w", err)
		}
		b.CanonicalBlocks = append(b.CanonicalBlocks, cb)
		if cb.BlockControlFlags.Has(BlockLastBlock) {
			break
		}
	}
	return b.CheckValid()
}
