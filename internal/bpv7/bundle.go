package bpv7

import (
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// Bundle is the in-memory representation of a parsed or constructed bundle:
// one primary block plus an ordered list of canonical blocks. The payload
// block must be the last one, per section 4.1.
type Bundle struct {
	PrimaryBlock    PrimaryBlock
	CanonicalBlocks []CanonicalBlock
}

// NewBundle validates primary and canonicals and returns the assembled
// Bundle.
func NewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) (Bundle, error) {
	b := MustNewBundle(primary, canonicals)
	return b, b.CheckValid()
}

// MustNewBundle assembles a Bundle without validation.
func MustNewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) Bundle {
	return Bundle{PrimaryBlock: primary, CanonicalBlocks: canonicals}
}

// ExtensionBlock returns the first canonical block of the given type code.
func (b *Bundle) ExtensionBlock(typeCode uint64) (*CanonicalBlock, error) {
	for i := range b.CanonicalBlocks {
		if b.CanonicalBlocks[i].TypeCode() == typeCode {
			return &b.CanonicalBlocks[i], nil
		}
	}
	return nil, fmt.Errorf("bpv7: no canonical block with type code %d", typeCode)
}

// PayloadBlock returns the bundle's payload block.
func (b *Bundle) PayloadBlock() (*CanonicalBlock, error) { return b.ExtensionBlock(ExtBlockTypePayloadBlock) }

// PayloadSize returns the length of the application data unit, or the
// fragment thereof carried by this bundle. The store uses it for its soft
// byte accounting; route requests are sized by the serialized bundle.
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

// AddExtensionBlock appends block, assigning it the lowest unused block
// number, counted from 1 for the payload block and from 2 for any other
// block (block number 1 is the payload's), and keeps the payload block last
// (required for v7 streaming serialization).
func (b *Bundle) AddExtensionBlock(block CanonicalBlock) {
	used := make(map[uint64]bool, len(b.CanonicalBlocks))
	for _, cb := range b.CanonicalBlocks {
		used[cb.BlockNumber] = true
	}

	var n uint64 = 1
	if block.TypeCode() != ExtBlockTypePayloadBlock {
		n = 2
	}
	for used[n] {
		n++
	}
	block.BlockNumber = n

	if block.TypeCode() == ExtBlockTypePayloadBlock {
		b.CanonicalBlocks = append(b.CanonicalBlocks, block)
		return
	}

	// insert before any existing payload block
	for i, cb := range b.CanonicalBlocks {
		if cb.TypeCode() == ExtBlockTypePayloadBlock {
			b.CanonicalBlocks = append(b.CanonicalBlocks[:i],
				append([]CanonicalBlock{block}, b.CanonicalBlocks[i:]...)...)
			return
		}
	}
	b.CanonicalBlocks = append(b.CanonicalBlocks, block)
}

// SetCRCType sets the CRC type for the primary block and every canonical
// block.
func (b *Bundle) SetCRCType(t CRCType) {
	b.PrimaryBlock.CRCType = t
	for i := range b.CanonicalBlocks {
		b.CanonicalBlocks[i].CRCType = t
	}
}

// ID returns the bundle's external identity: source, creation timestamp and,
// for fragments, fragment offset.
func (b Bundle) ID() string {
	var s strings.Builder
	fmt.Fprintf(&s, "%v-%d-%d", b.PrimaryBlock.SourceNode,
		b.PrimaryBlock.CreationTimestamp[0], b.PrimaryBlock.CreationTimestamp[1])
	if b.PrimaryBlock.BundleControlFlags.Has(IsFragment) {
		fmt.Fprintf(&s, "-%d", b.PrimaryBlock.FragmentOffset)
	}
	return s.String()
}

func (b Bundle) String() string { return b.ID() }

// CheckValid validates the primary block, every canonical block, and the
// cross-block invariant that the payload block is present, numbered 1, and
// last.
func (b Bundle) CheckValid() (errs error) {
	if err := b.PrimaryBlock.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, cb := range b.CanonicalBlocks {
		if err := cb.CheckValid(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if len(b.CanonicalBlocks) == 0 || b.CanonicalBlocks[len(b.CanonicalBlocks)-1].TypeCode() != ExtBlockTypePayloadBlock {
		errs = multierror.Append(errs, newValidationError("bundle: payload block must be last"))
	}

	return
}

// MarshalCbor writes the bundle as the indefinite-length array framing of
// section 6.1: [primary_block, *extension_blocks, payload_block, 0xff].
func (b *Bundle) MarshalCbor(w io.Writer) error {
	if _, err := w.Write([]byte{cboring.IndefiniteArray}); err != nil {
		return err
	}
	if err := b.PrimaryBlock.MarshalCbor(w); err != nil {
		return fmt.Errorf("bpv7: marshalling primary block failed: %w", err)
	}
	for i := range b.CanonicalBlocks {
		if err := b.CanonicalBlocks[i].MarshalCbor(w); err != nil {
			return fmt.Errorf("bpv7: marshalling canonical block failed: %w", err)
		}
	}
	_, err := w.Write([]byte{cboring.BreakCode})
	return err
}

// UnmarshalCbor reads a complete bundle in one call; for a restartable
// stream of bundles, use Parser instead.
func (b *Bundle) UnmarshalCbor(r io.Reader) error {
	if err := cboring.ReadExpect(cboring.IndefiniteArray, r); err != nil {
		return err
	}
	if err := b.PrimaryBlock.UnmarshalCbor(r); err != nil {
		return fmt.Errorf("bpv7: unmarshalling primary block failed: %w", err)
	}
	for {
		var cb CanonicalBlock
		if err := cb.UnmarshalCbor(r); err == cboring.FlagBreakCode {
			break
		} else if err != nil {
			return fmt.Errorf("bpv7: unmarshalling canonical block failed: %w", err)
		} else {
			b.CanonicalBlocks = append(b.CanonicalBlocks, cb)
		}
	}
	return b.CheckValid()
}
