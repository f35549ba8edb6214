package bpv7

import (
	"bytes"
	"fmt"
	"math"

	"github.com/dtn7/cboring"
)

// Fragment splits b into one or more bundles, each serializing to at most
// mtu bytes, per section 4.1's fragmentation rules: a REPLICATE_IN_FRAGMENTS
// extension block is duplicated into every fragment, others only into the
// first; the payload is split at the byte offset that keeps each fragment's
// encoded size within mtu.
func (b Bundle) Fragment(mtu int) ([]Bundle, error) {
	if b.PrimaryBlock.BundleControlFlags.Has(MustNotFragmented) {
		return nil, fmt.Errorf("bpv7: bundle control flags forbid fragmentation")
	}

	payloadBlock, err := b.PayloadBlock()
	if err != nil {
		return nil, err
	}
	payload := payloadBlock.Value.(*PayloadBlock).Data()
	payloadLen := len(payload)

	firstOverhead, otherOverhead, err := fragmentExtensionBlocksLen(b, mtu)
	if err != nil {
		return nil, err
	}

	var fragments []Bundle

	for i := 0; i < payloadLen; {
		fragPrimary, primaryOverhead, err := fragmentPrimaryBlock(b.PrimaryBlock, i, payloadLen)
		if err != nil {
			return nil, err
		}

		overhead := 2 + primaryOverhead
		if i == 0 {
			overhead += firstOverhead
		} else {
			overhead += otherOverhead
		}
		if overhead >= mtu {
			return nil, fmt.Errorf("bpv7: fragment overhead at offset %d exceeds mtu", i)
		}

		fragBundle := MustNewBundle(fragPrimary, nil)
		for _, cb := range b.CanonicalBlocks {
			if cb.TypeCode() == ExtBlockTypePayloadBlock {
				continue
			}
			if i > 0 && !cb.BlockControlFlags.Has(ReplicateInFragments) {
				continue
			}
			fragBundle.AddExtensionBlock(cb)
		}

		fragPayloadLen := mtu - overhead
		end := int(math.Min(float64(i+fragPayloadLen), float64(payloadLen)))

		fragBundle.AddExtensionBlock(CanonicalBlock{
			BlockControlFlags: payloadBlock.BlockControlFlags,
			CRCType:           CRCType32,
			Value:             NewPayloadBlock(payload[i:end]),
		})

		if err := fragBundle.CheckValid(); err != nil {
			return nil, err
		}
		fragments = append(fragments, fragBundle)

		i += fragPayloadLen
	}

	if len(fragments) == 1 {
		return []Bundle{b}, nil
	}
	return fragments, nil
}

func fragmentPrimaryBlock(pb PrimaryBlock, offset, total int) (PrimaryBlock, int, error) {
	frag := PrimaryBlock{
		Version:            pb.Version,
		BundleControlFlags: pb.BundleControlFlags | IsFragment,
		CRCType:            CRCType32,
		Destination:        pb.Destination,
		SourceNode:         pb.SourceNode,
		ReportTo:           pb.ReportTo,
		CreationTimestamp:  pb.CreationTimestamp,
		Lifetime:           pb.Lifetime,
		FragmentOffset:     uint64(offset),
		TotalDataLength:    uint64(total),
	}

	buff := new(bytes.Buffer)
	if err := frag.MarshalCbor(buff); err != nil {
		return PrimaryBlock{}, 0, err
	}
	return frag, buff.Len(), nil
}

// fragmentExtensionBlocksLen estimates the serialized size of the extension
// blocks (excluding payload) for the first fragment and for every other
// fragment.
func fragmentExtensionBlocksLen(b Bundle, mtu int) (first, others int, err error) {
	buff := new(bytes.Buffer)

	for _, cb := range b.CanonicalBlocks {
		if cb.TypeCode() == ExtBlockTypePayloadBlock {
			cb = CanonicalBlock{
				BlockNumber:       cb.BlockNumber,
				BlockControlFlags: cb.BlockControlFlags,
				Value:             NewPayloadBlock(nil),
			}
		}
		cb.CRCType = CRCType32

		if err = cb.MarshalCbor(buff); err != nil {
			return
		}
		cbLen := buff.Len()
		first += cbLen
		if cb.BlockControlFlags.Has(ReplicateInFragments) {
			others += cbLen
		}

		if cb.TypeCode() == ExtBlockTypePayloadBlock {
			buff.Reset()
			if err = cboring.WriteByteStringLen(uint64(mtu), buff); err != nil {
				return
			}
			first += buff.Len() - 1
			others += cbLen + buff.Len() - 1
		}

		buff.Reset()
	}

	return
}
