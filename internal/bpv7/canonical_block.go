package bpv7

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// CanonicalBlock is a typed bundle block as defined in section 4.2.3: a
// numbered, flagged wrapper around an ExtensionBlock value.
type CanonicalBlock struct {
	BlockNumber       uint64
	BlockControlFlags BlockControlFlags
	CRCType           CRCType
	CRC               []byte
	Value             ExtensionBlock
}

// NewCanonicalBlock wraps value as block number no with the given flags.
func NewCanonicalBlock(no uint64, flags BlockControlFlags, value ExtensionBlock) CanonicalBlock {
	return CanonicalBlock{BlockNumber: no, BlockControlFlags: flags, Value: value}
}

func (cb CanonicalBlock) TypeCode() uint64 { return cb.Value.BlockTypeCode() }
func (cb CanonicalBlock) HasCRC() bool     { return cb.CRCType != CRCNo }

func (cb *CanonicalBlock) MarshalCbor(w io.Writer) error {
	var blockLen uint64 = 5
	if cb.HasCRC() {
		blockLen = 6
	}

	crcBuff := new(bytes.Buffer)
	if cb.HasCRC() {
		w = io.MultiWriter(w, crcBuff)
	}

	if err := cboring.WriteArrayLength(blockLen, w); err != nil {
		return err
	}

	fields := []uint64{cb.TypeCode(), cb.BlockNumber, uint64(cb.BlockControlFlags), uint64(cb.CRCType)}
	for _, f := range fields {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}

	if err := cboring.Marshal(cb.Value, w); err != nil {
		return fmt.Errorf("bpv7: marshalling block value failed: %w", err)
	}

	if cb.HasCRC() {
		crcVal, err := calculateCRCBuff(crcBuff, cb.CRCType)
		if err != nil {
			return err
		}
		if err := cboring.WriteByteString(crcVal, w); err != nil {
			return err
		}
		cb.CRC = crcVal
	}

	return nil
}

func (cb *CanonicalBlock) UnmarshalCbor(r io.Reader) error {
	blockLen, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if blockLen != 5 && blockLen != 6 {
		return fmt.Errorf("bpv7: canonical block expects array of 5 or 6 elements, got %d", blockLen)
	}

	crcBuff := new(bytes.Buffer)
	if blockLen == 6 {
		_ = cboring.WriteArrayLength(blockLen, crcBuff)
		r = io.TeeReader(r, crcBuff)
	}

	blockType, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	if bn, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cb.BlockNumber = bn
	}
	if bcf, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cb.BlockControlFlags = BlockControlFlags(bcf)
	}
	if crcT, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cb.CRCType = CRCType(crcT)
	}

	value, err := newExtensionBlock(blockType)
	if err != nil {
		return err
	}
	if err := cboring.Unmarshal(value, r); err != nil {
		return fmt.Errorf("bpv7: unmarshalling block type %d failed: %w", blockType, err)
	}
	cb.Value = value

	if blockLen == 6 {
		crcCalc, err := calculateCRCBuff(crcBuff, cb.CRCType)
		if err != nil {
			return err
		}
		crcVal, err := cboring.ReadByteString(r)
		if err != nil {
			return err
		}
		if !bytes.Equal(crcCalc, crcVal) {
			return fmt.Errorf("bpv7: canonical block CRC mismatch: got %x, want %x", crcVal, crcCalc)
		}
		cb.CRC = crcVal
	}

	return nil
}

// newExtensionBlock constructs the typed ExtensionBlock for a recognized
// block type code.
func newExtensionBlock(typeCode uint64) (ExtensionBlock, error) {
	switch typeCode {
	case ExtBlockTypePayloadBlock:
		return new(PayloadBlock), nil
	case ExtBlockTypePreviousNodeBlock:
		return new(PreviousNodeBlock), nil
	case ExtBlockTypeBundleAgeBlock:
		return new(BundleAgeBlock), nil
	case ExtBlockTypeHopCountBlock:
		return new(HopCountBlock), nil
	default:
		return nil, fmt.Errorf("bpv7: unsupported block type code %d", typeCode)
	}
}

// CheckValid validates block control flags; payload-specific and
// custom-extension checks are folded in by Bundle.CheckValid.
func (cb CanonicalBlock) CheckValid() (errs error) {
	if err := cb.BlockControlFlags.checkValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if cb.TypeCode() == ExtBlockTypePayloadBlock && cb.BlockNumber != 1 {
		errs = multierror.Append(errs, newValidationError("payload block must be block number 1"))
	}
	return
}
