package bpv6

import (
	"bytes"
	"testing"
)

func mustEID(t *testing.T, uri string) EndpointID {
	t.Helper()
	eid, err := NewEndpointID(uri)
	if err != nil {
		t.Fatalf("NewEndpointID(%q): %v", uri, err)
	}
	return eid
}

func TestBundleRoundTrip(t *testing.T) {
	src := mustEID(t, "dtn://sender/")
	dst := mustEID(t, "dtn://receiver/inbox")

	primary := NewPrimaryBlock(SingletonDestination, dst, src, CreationTimestamp{Time: 1000, SequenceNo: 0}, 3600)
	payload := NewCanonicalBlock(0, NewPayloadBlock([]byte("hello dtn")))

	b, err := NewBundle(primary, []CanonicalBlock{payload})
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	var buf bytes.Buffer
	if err := b.MarshalCbor(&buf); err != nil {
		t.Fatalf("MarshalCbor: %v", err)
	}

	var got Bundle
	if err := got.UnmarshalCbor(&buf); err != nil {
		t.Fatalf("UnmarshalCbor: %v", err)
	}

	if got.PrimaryBlock.SourceNode.String() != src.String() {
		t.Errorf("source = %v, want %v", got.PrimaryBlock.SourceNode, src)
	}
	if got.PrimaryBlock.Destination.String() != dst.String() {
		t.Errorf("destination = %v, want %v", got.PrimaryBlock.Destination, dst)
	}

	cb, err := got.PayloadBlock()
	if err != nil {
		t.Fatalf("PayloadBlock: %v", err)
	}
	pb, ok := cb.Value.(*PayloadBlock)
	if !ok {
		t.Fatalf("payload block value has wrong type %T", cb.Value)
	}
	if string(pb.Data()) != "hello dtn" {
		t.Errorf("payload = %q, want %q", pb.Data(), "hello dtn")
	}
}

func TestFragmentedPrimaryBlockRoundTrip(t *testing.T) {
	src := mustEID(t, "dtn://sender/")
	dst := mustEID(t, "dtn://receiver/")

	primary := NewPrimaryBlock(IsFragment, dst, src, CreationTimestamp{Time: 42, SequenceNo: 7}, 60)
	primary.FragmentOffset = 128
	primary.TotalADULength = 4096

	var buf bytes.Buffer
	if err := primary.MarshalCbor(&buf); err != nil {
		t.Fatalf("MarshalCbor: %v", err)
	}

	var got PrimaryBlock
	if err := got.UnmarshalCbor(&buf); err != nil {
		t.Fatalf("UnmarshalCbor: %v", err)
	}
	if got.FragmentOffset != 128 || got.TotalADULength != 4096 {
		t.Errorf("fragment fields = (%d, %d), want (128, 4096)", got.FragmentOffset, got.TotalADULength)
	}
}

func TestSDNVRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 40} {
		var buf bytes.Buffer
		if err := writeSDNV(v, &buf); err != nil {
			t.Fatalf("writeSDNV(%d): %v", v, err)
		}
		if buf.Len() != sdnvLen(v) {
			t.Errorf("sdnvLen(%d) = %d, encoded length = %d", v, sdnvLen(v), buf.Len())
		}
		got, err := readSDNV(&buf)
		if err != nil {
			t.Fatalf("readSDNV(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("readSDNV round-trip = %d, want %d", got, v)
		}
	}
}

func TestStatusReportRoundTrip(t *testing.T) {
	sr := StatusReport{
		ReportingFlags:    0x08,
		Reason:            ReasonLifetimeExpired,
		TimeOfDelivery:    123456,
		CreationTimestamp: CreationTimestamp{Time: 99, SequenceNo: 1},
		SourceEID:         mustEID(t, "dtn://origin/"),
	}

	var buf bytes.Buffer
	if err := sr.MarshalCbor(&buf); err != nil {
		t.Fatalf("MarshalCbor: %v", err)
	}

	rec, err := ParseAdministrativeRecord(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseAdministrativeRecord: %v", err)
	}
	got, ok := rec.(*StatusReport)
	if !ok {
		t.Fatalf("parsed record has wrong type %T", rec)
	}
	if got.TimeOfDelivery != 123456 {
		t.Errorf("TimeOfDelivery = %d, want 123456", got.TimeOfDelivery)
	}
	if got.SourceEID.String() != sr.SourceEID.String() {
		t.Errorf("SourceEID = %v, want %v", got.SourceEID, sr.SourceEID)
	}
}
