package bpv6

import (
	"bytes"
	"fmt"
	"io"
)

const version uint8 = 6

// CreationTimestamp is the (time, sequence number) pair of section 4.5,
// where time is seconds since the DTN epoch (2000-01-01T00:00:00Z).
type CreationTimestamp struct {
	Time       uint64
	SequenceNo uint64
}

// PrimaryBlock is the bundle's primary block, RFC 5050 section 4.5.
type PrimaryBlock struct {
	ProcFlags         BundleControlFlags
	Destination       EndpointID
	SourceNode        EndpointID
	ReportTo          EndpointID
	Custodian         EndpointID
	CreationTimestamp CreationTimestamp
	Lifetime          uint64 // seconds, per RFC 5050 (unlike BPv7's ms)
	FragmentOffset    uint64
	TotalADULength    uint64
}

// NewPrimaryBlock creates a primary block whose custodian and report-to
// default to the source, mirroring internal/bpv7.NewPrimaryBlock.
func NewPrimaryBlock(flags BundleControlFlags, destination, source EndpointID, ts CreationTimestamp, lifetimeSec uint64) PrimaryBlock {
	return PrimaryBlock{
		ProcFlags:         flags,
		Destination:       destination,
		SourceNode:        source,
		ReportTo:          source,
		Custodian:         source,
		CreationTimestamp: ts,
		Lifetime:          lifetimeSec,
	}
}

func (pb PrimaryBlock) HasFragmentation() bool { return pb.ProcFlags.Has(IsFragment) }

// MarshalCbor is named to mirror internal/bpv7's method set even though the
// wire format here is SDNV, not CBOR; internal/bpv6.Bundle.MarshalCbor calls
// it for the primary block.
func (pb *PrimaryBlock) MarshalCbor(w io.Writer) error {
	dict := newDictionary()
	destSch, destSsp := dict.eidOffsets(pb.Destination)
	srcSch, srcSsp := dict.eidOffsets(pb.SourceNode)
	rptSch, rptSsp := dict.eidOffsets(pb.ReportTo)
	cstSch, cstSsp := dict.eidOffsets(pb.Custodian)

	body := new(bytes.Buffer)
	for _, v := range []uint64{destSch, destSsp, srcSch, srcSsp, rptSch, rptSsp, cstSch, cstSsp,
		pb.CreationTimestamp.Time, pb.CreationTimestamp.SequenceNo, pb.Lifetime, uint64(len(dict.buf))} {
		if err := writeSDNV(v, body); err != nil {
			return err
		}
	}
	body.Write(dict.buf)
	if pb.HasFragmentation() {
		if err := writeSDNV(pb.FragmentOffset, body); err != nil {
			return err
		}
		if err := writeSDNV(pb.TotalADULength, body); err != nil {
			return err
		}
	}

	if _, err := w.Write([]byte{version}); err != nil {
		return err
	}
	if err := writeSDNV(uint64(pb.ProcFlags), w); err != nil {
		return err
	}
	if err := writeSDNV(uint64(body.Len()), w); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

func (pb *PrimaryBlock) UnmarshalCbor(r io.Reader) error {
	var v [1]byte
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return err
	}
	if v[0] != version {
		return fmt.Errorf("bpv6: unsupported bundle version %d", v[0])
	}

	flags, err := readSDNV(r)
	if err != nil {
		return err
	}
	pb.ProcFlags = BundleControlFlags(flags)

	blockLen, err := readSDNV(r)
	if err != nil {
		return err
	}
	body := io.LimitReader(r, int64(blockLen))

	offs := make([]uint64, 8)
	for i := range offs {
		if offs[i], err = readSDNV(body); err != nil {
			return err
		}
	}
	if pb.CreationTimestamp.Time, err = readSDNV(body); err != nil {
		return err
	}
	if pb.CreationTimestamp.SequenceNo, err = readSDNV(body); err != nil {
		return err
	}
	if pb.Lifetime, err = readSDNV(body); err != nil {
		return err
	}
	dictLen, err := readSDNV(body)
	if err != nil {
		return err
	}
	dictBuf := make([]byte, dictLen)
	if _, err := io.ReadFull(body, dictBuf); err != nil {
		return err
	}

	if pb.Destination, err = eidFromDictionary(dictBuf, offs[0], offs[1]); err != nil {
		return err
	}
	if pb.SourceNode, err = eidFromDictionary(dictBuf, offs[2], offs[3]); err != nil {
		return err
	}
	if pb.ReportTo, err = eidFromDictionary(dictBuf, offs[4], offs[5]); err != nil {
		return err
	}
	if pb.Custodian, err = eidFromDictionary(dictBuf, offs[6], offs[7]); err != nil {
		return err
	}

	if pb.HasFragmentation() {
		if pb.FragmentOffset, err = readSDNV(body); err != nil {
			return err
		}
		if pb.TotalADULength, err = readSDNV(body); err != nil {
			return err
		}
	}
	return nil
}

func (pb PrimaryBlock) CheckValid() error {
	if pb.ProcFlags.Has(IsFragment) && pb.ProcFlags.Has(MustNotFragmented) {
		return fmt.Errorf("bpv6: primary block sets both is-fragment and must-not-be-fragmented")
	}
	return nil
}
