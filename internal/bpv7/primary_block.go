package bpv7

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

const dtnVersion uint64 = 7

// PrimaryBlock is the bundle's primary block, section 4.2.2.
type PrimaryBlock struct {
	Version            uint64
	BundleControlFlags BundleControlFlags
	CRCType            CRCType
	Destination        EndpointID
	SourceNode         EndpointID
	ReportTo           EndpointID
	CreationTimestamp  CreationTimestamp
	Lifetime           uint64
	FragmentOffset     uint64
	TotalDataLength    uint64
	CRC                []byte
}

// NewPrimaryBlock creates a primary block; lifetime is in milliseconds, per
// the data model in section 3.
func NewPrimaryBlock(flags BundleControlFlags, destination, source EndpointID, ts CreationTimestamp, lifetimeMs uint64) PrimaryBlock {
	return PrimaryBlock{
		Version:            dtnVersion,
		BundleControlFlags: flags,
		CRCType:            CRCNo,
		Destination:        destination,
		SourceNode:         source,
		ReportTo:           source,
		CreationTimestamp:  ts,
		Lifetime:           lifetimeMs,
	}
}

func (pb PrimaryBlock) HasFragmentation() bool { return pb.BundleControlFlags.Has(IsFragment) }
func (pb PrimaryBlock) HasCRC() bool           { return pb.CRCType != CRCNo }

func (pb *PrimaryBlock) resetCRC() { pb.CRC = emptyCRC(pb.CRCType) }

func (pb *PrimaryBlock) MarshalCbor(w io.Writer) error {
	var blockLen uint64 = 8
	switch {
	case pb.HasCRC() && pb.HasFragmentation():
		blockLen = 11
	case pb.HasFragmentation():
		blockLen = 10
	case pb.HasCRC():
		blockLen = 9
	}

	crcBuff := new(bytes.Buffer)
	if pb.HasCRC() {
		w = io.MultiWriter(w, crcBuff)
	}

	if err := cboring.WriteArrayLength(blockLen, w); err != nil {
		return err
	}

	for _, f := range []uint64{dtnVersion, uint64(pb.BundleControlFlags), uint64(pb.CRCType)} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}

	for _, eid := range []*EndpointID{&pb.Destination, &pb.SourceNode, &pb.ReportTo} {
		if err := cboring.Marshal(eid, w); err != nil {
			return fmt.Errorf("bpv7: marshalling endpoint failed: %w", err)
		}
	}

	if err := cboring.Marshal(&pb.CreationTimestamp, w); err != nil {
		return fmt.Errorf("bpv7: marshalling creation timestamp failed: %w", err)
	}

	if err := cboring.WriteUInt(pb.Lifetime, w); err != nil {
		return err
	}

	if pb.HasFragmentation() {
		for _, f := range []uint64{pb.FragmentOffset, pb.TotalDataLength} {
			if err := cboring.WriteUInt(f, w); err != nil {
				return err
			}
		}
	}

	if pb.HasCRC() {
		crcVal, err := calculateCRCBuff(crcBuff, pb.CRCType)
		if err != nil {
			return err
		}
		if err := cboring.WriteByteString(crcVal, w); err != nil {
			return err
		}
		pb.CRC = crcVal
	}

	return nil
}

func (pb *PrimaryBlock) UnmarshalCbor(r io.Reader) error {
	blockLen, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if blockLen < 8 || blockLen > 11 {
		return fmt.Errorf("bpv7: primary block expects array of 8-11 elements, got %d", blockLen)
	}

	crcBuff := new(bytes.Buffer)
	if blockLen == 9 || blockLen == 11 {
		_ = cboring.WriteArrayLength(blockLen, crcBuff)
		r = io.TeeReader(r, crcBuff)
	}

	version, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	if version != dtnVersion {
		return fmt.Errorf("bpv7: expected bundle version %d, got %d", dtnVersion, version)
	}
	pb.Version = version

	if bcf, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		pb.BundleControlFlags = BundleControlFlags(bcf)
	}

	if crcT, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		pb.CRCType = CRCType(crcT)
	}

	for _, eid := range []*EndpointID{&pb.Destination, &pb.SourceNode, &pb.ReportTo} {
		if err := cboring.Unmarshal(eid, r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling endpoint failed: %w", err)
		}
	}

	if err := cboring.Unmarshal(&pb.CreationTimestamp, r); err != nil {
		return fmt.Errorf("bpv7: unmarshalling creation timestamp failed: %w", err)
	}

	if lt, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		pb.Lifetime = lt
	}

	if blockLen == 10 || blockLen == 11 {
		for _, f := range []*uint64{&pb.FragmentOffset, &pb.TotalDataLength} {
			v, err := cboring.ReadUInt(r)
			if err != nil {
				return err
			}
			*f = v
		}
	}

	if blockLen == 9 || blockLen == 11 {
		crcCalc, err := calculateCRCBuff(crcBuff, pb.CRCType)
		if err != nil {
			return err
		}
		crcVal, err := cboring.ReadByteString(r)
		if err != nil {
			return err
		}
		if !bytes.Equal(crcCalc, crcVal) {
			return fmt.Errorf("bpv7: primary block CRC mismatch: got %x, want %x", crcVal, crcCalc)
		}
		pb.CRC = crcVal
	}

	return nil
}

// CheckValid validates the primary block's invariants, aggregating all
// violations via go-multierror.
func (pb PrimaryBlock) CheckValid() (errs error) {
	if pb.Version != dtnVersion {
		errs = multierror.Append(errs, newValidationError(
			fmt.Sprintf("primary block: wrong version %d, want %d", pb.Version, dtnVersion)))
	}

	if err := pb.BundleControlFlags.checkValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, eid := range []EndpointID{pb.Destination, pb.SourceNode, pb.ReportTo} {
		if err := eid.CheckValid(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	// section 4.1.3: source = dtn:none implies must-not-fragment and no
	// status report request flags.
	implied := pb.SourceNode != DtnNone() ||
		(pb.BundleControlFlags.Has(MustNotFragmented) &&
			!pb.BundleControlFlags.Has(StatusRequestReception) &&
			!pb.BundleControlFlags.Has(StatusRequestForward) &&
			!pb.BundleControlFlags.Has(StatusRequestDelivery) &&
			!pb.BundleControlFlags.Has(StatusRequestDeletion))
	if !implied {
		errs = multierror.Append(errs, newValidationError(
			"primary block: source is dtn:none but bundle may be fragmented or requests status reports"))
	}

	return
}

// IsLifetimeExceeded compares creation-timestamp+lifetime against wall time.
// The hop-count and bundle-age extension blocks should also be checked.
func (pb PrimaryBlock) IsLifetimeExceeded() bool {
	expiry := pb.CreationTimestamp.DtnTime().Time().Add(time.Duration(pb.Lifetime) * time.Millisecond)
	return time.Now().After(expiry)
}
