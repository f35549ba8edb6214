// Package bibe implements Bundle-in-Bundle Encapsulation: wrapping a fully
// serialized bundle as the payload of another bundle's BPDU, per section 6.2.
//
// Grounded on EpicKiwi/archipel-core's components/cla/bibe_proto.c. That
// implementation pre-allocates a header of sizeof(uint64_t) bytes and
// corrects the offset with a "+3" constant that is only valid for the
// specific case of a 3-element array whose first two elements are
// single-byte-encoded zeros (Open Question 1 in the design notes). This
// package instead marshals the BPDU through cboring and measures the actual
// encoded length, so it is correct for any field values.
package bibe

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// BPDU is a BIBE Protocol Data Unit: a 3-element CBOR array carrying an
// encapsulated bundle plus custody-transfer bookkeeping.
type BPDU struct {
	// TransmissionID is 0 when BIBE custody transfer is not in use.
	TransmissionID uint64

	// RetransmissionTime is in seconds; 0 when unused.
	RetransmissionTime uint64

	// EncapsulatedBundle holds the fully serialized inner bundle.
	EncapsulatedBundle []byte
}

// NewBPDU wraps an already-serialized bundle without custody transfer.
func NewBPDU(encapsulated []byte) BPDU {
	return BPDU{EncapsulatedBundle: encapsulated}
}

// MarshalCbor writes the 3-element BPDU array.
func (d *BPDU) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(d.TransmissionID, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(d.RetransmissionTime, w); err != nil {
		return err
	}
	return cboring.WriteByteString(d.EncapsulatedBundle, w)
}

// UnmarshalCbor reads a 3-element BPDU array.
func (d *BPDU) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 3 {
		return fmt.Errorf("bibe: BPDU expects array of 3 elements, got %d", n)
	}

	if v, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		d.TransmissionID = v
	}
	if v, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		d.RetransmissionTime = v
	}
	if v, err := cboring.ReadByteString(r); err != nil {
		return err
	} else {
		d.EncapsulatedBundle = v
	}

	return nil
}

// HeaderSize returns the exact number of bytes the BPDU's array-length and
// the transmission_id/retransmission_time fields occupy, computed by
// marshalling them and measuring the result rather than assuming a fixed
// constant. A caller streaming the encapsulated bundle separately uses this
// to size its begin_packet call.
func (d *BPDU) HeaderSize() (int, error) {
	buff := new(bytes.Buffer)
	if err := cboring.WriteArrayLength(3, buff); err != nil {
		return 0, err
	}
	if err := cboring.WriteUInt(d.TransmissionID, buff); err != nil {
		return 0, err
	}
	if err := cboring.WriteUInt(d.RetransmissionTime, buff); err != nil {
		return 0, err
	}
	return buff.Len(), nil
}

// Encode returns the complete wire encoding of the BPDU.
func (d *BPDU) Encode() ([]byte, error) {
	buff := new(bytes.Buffer)
	if err := d.MarshalCbor(buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// Decode parses a complete BPDU from data.
func Decode(data []byte) (BPDU, error) {
	var d BPDU
	err := d.UnmarshalCbor(bytes.NewReader(data))
	return d, err
}
