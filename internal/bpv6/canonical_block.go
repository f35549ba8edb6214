package bpv6

import (
	"bytes"
	"fmt"
	"io"
)

// Block type codes recognized by this node: the RFC 5050 section 4.6 payload
// block plus the previous-hop and age extension blocks. Any other type code
// is kept as raw bytes.
const (
	BlockTypePayload uint64 = 1

	ExtBlockTypePreviousHop uint64 = 7  // draft-irtf-dtnrg-bundle-extensions "Previous Hop Insertion"
	ExtBlockTypeAge         uint64 = 20 // draft-irtf-dtnrg-bundle-age "Age Extension Block"
)

// ExtensionBlock is the payload of a CanonicalBlock, mirroring
// internal/bpv7.ExtensionBlock.
type ExtensionBlock interface {
	BlockTypeCode() uint64
	MarshalCbor(io.Writer) error
	UnmarshalCbor(io.Reader) error
}

// CanonicalBlock is a non-primary block: type, per-block flags and payload.
type CanonicalBlock struct {
	BlockControlFlags CanonicalBlockFlags
	Value             ExtensionBlock

	// raw carries an unrecognized block type's bytes verbatim, so an
	// unknown extension round-trips instead of being dropped.
	rawType uint64
	raw     []byte
}

func NewCanonicalBlock(flags CanonicalBlockFlags, value ExtensionBlock) CanonicalBlock {
	return CanonicalBlock{BlockControlFlags: flags, Value: value}
}

func (cb CanonicalBlock) TypeCode() uint64 {
	if cb.Value != nil {
		return cb.Value.BlockTypeCode()
	}
	return cb.rawType
}

func (cb *CanonicalBlock) MarshalCbor(w io.Writer) error {
	body := new(bytes.Buffer)
	var err error
	if cb.Value != nil {
		err = cb.Value.MarshalCbor(body)
	} else {
		_, err = body.Write(cb.raw)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write([]byte{byte(cb.TypeCode())}); err != nil {
		return err
	}
	if err := writeSDNV(uint64(cb.BlockControlFlags), w); err != nil {
		return err
	}
	if err := writeSDNV(uint64(body.Len()), w); err != nil {
		return err
	}
	_, err = w.Write(body.Bytes())
	return err
}

func (cb *CanonicalBlock) UnmarshalCbor(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}

	flags, err := readSDNV(r)
	if err != nil {
		return err
	}
	cb.BlockControlFlags = CanonicalBlockFlags(flags)

	blockLen, err := readSDNV(r)
	if err != nil {
		return err
	}
	data := make([]byte, blockLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	switch uint64(t[0]) {
	case BlockTypePayload:
		cb.Value = &PayloadBlock{}
	case ExtBlockTypePreviousHop:
		cb.Value = &PreviousHopBlock{}
	case ExtBlockTypeAge:
		cb.Value = new(AgeBlock)
	default:
		cb.rawType = uint64(t[0])
		cb.raw = data
		return nil
	}
	return cb.Value.UnmarshalCbor(bytes.NewReader(data))
}

func (cb CanonicalBlock) CheckValid() error {
	if cb.Value == nil && cb.raw == nil {
		return fmt.Errorf("bpv6: canonical block has no payload")
	}
	return nil
}
