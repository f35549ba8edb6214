package bpv6

import (
	"bytes"
	"fmt"
	"io"
)

// Administrative record type codes, carried in the high nibble of the first
// payload byte when PrimaryBlock.ProcFlags has AdministrativeRecordPayload
// set, RFC 5050 section 6.
const (
	AdminRecordTypeStatusReport  uint8 = 1
	AdminRecordTypeCustodySignal uint8 = 2
)

// StatusReportReasonCode explains why a status report was generated,
// section 6.1.1.
type StatusReportReasonCode uint8

const (
	ReasonNoInformation        StatusReportReasonCode = 0
	ReasonLifetimeExpired      StatusReportReasonCode = 1
	ReasonForwarded            StatusReportReasonCode = 2
	ReasonUnidirectionalLink   StatusReportReasonCode = 3
	ReasonTransmissionCanceled StatusReportReasonCode = 4
	ReasonDepletedStorage      StatusReportReasonCode = 5
	ReasonDestEIDUnintellig    StatusReportReasonCode = 6
	ReasonNoRoute              StatusReportReasonCode = 7
	ReasonNoTimelyContact      StatusReportReasonCode = 8
	ReasonBlockUnintellig      StatusReportReasonCode = 9
)

// StatusReport is the BPv6 analogue of a BPv7 bundle-status administrative
// record: reports reception/forwarding/delivery/deletion of a bundle back to
// its report-to EID. Grounded on spec.md §6.4's deletion-status-report
// requirement and RFC 5050 section 6.1.
type StatusReport struct {
	ReportingFlags          uint8 // bit0 received, bit1 accepted custody, bit2 forwarded, bit3 delivered, bit4 deleted
	Reason                  StatusReportReasonCode
	FragmentOffset          uint64
	FragmentLength          uint64
	IsFragment              bool
	TimeOfReceipt           uint64
	TimeOfCustodyAcceptance uint64
	TimeOfForwarding        uint64
	TimeOfDelivery          uint64
	TimeOfDeletion          uint64
	CreationTimestamp       CreationTimestamp
	SourceEID               EndpointID
}

func (sr *StatusReport) MarshalCbor(w io.Writer) error {
	admin := (AdminRecordTypeStatusReport << 4)
	if sr.IsFragment {
		admin |= 0x01
	}
	if _, err := w.Write([]byte{admin, sr.ReportingFlags, uint8(sr.Reason)}); err != nil {
		return err
	}
	if sr.IsFragment {
		if err := writeSDNV(sr.FragmentOffset, w); err != nil {
			return err
		}
		if err := writeSDNV(sr.FragmentLength, w); err != nil {
			return err
		}
	}
	times := []struct {
		flag uint8
		t    uint64
	}{
		{0x01, sr.TimeOfReceipt},
		{0x02, sr.TimeOfCustodyAcceptance},
		{0x04, sr.TimeOfForwarding},
		{0x08, sr.TimeOfDelivery},
		{0x10, sr.TimeOfDeletion},
	}
	for _, e := range times {
		if sr.ReportingFlags&e.flag == 0 {
			continue
		}
		if err := writeSDNV(e.t, w); err != nil {
			return err
		}
	}
	if err := writeSDNV(sr.CreationTimestamp.Time, w); err != nil {
		return err
	}
	if err := writeSDNV(sr.CreationTimestamp.SequenceNo, w); err != nil {
		return err
	}
	src := sr.SourceEID.String()
	if err := writeSDNV(uint64(len(src)), w); err != nil {
		return err
	}
	_, err := io.WriteString(w, src)
	return err
}

func (sr *StatusReport) UnmarshalCbor(r io.Reader) error {
	var head [3]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	if head[0]>>4 != AdminRecordTypeStatusReport {
		return fmt.Errorf("bpv6: not a status report (admin type %d)", head[0]>>4)
	}
	sr.IsFragment = head[0]&0x01 != 0
	sr.ReportingFlags = head[1]
	sr.Reason = StatusReportReasonCode(head[2])

	if sr.IsFragment {
		var err error
		if sr.FragmentOffset, err = readSDNV(r); err != nil {
			return err
		}
		if sr.FragmentLength, err = readSDNV(r); err != nil {
			return err
		}
	}

	readIf := func(flag uint8) (uint64, error) {
		if sr.ReportingFlags&flag == 0 {
			return 0, nil
		}
		return readSDNV(r)
	}
	var err error
	if sr.TimeOfReceipt, err = readIf(0x01); err != nil {
		return err
	}
	if sr.TimeOfCustodyAcceptance, err = readIf(0x02); err != nil {
		return err
	}
	if sr.TimeOfForwarding, err = readIf(0x04); err != nil {
		return err
	}
	if sr.TimeOfDelivery, err = readIf(0x08); err != nil {
		return err
	}
	if sr.TimeOfDeletion, err = readIf(0x10); err != nil {
		return err
	}
	if sr.CreationTimestamp.Time, err = readSDNV(r); err != nil {
		return err
	}
	if sr.CreationTimestamp.SequenceNo, err = readSDNV(r); err != nil {
		return err
	}
	n, err := readSDNV(r)
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	sr.SourceEID, err = NewEndpointID(string(buf))
	return err
}

// CustodySignal is the administrative record used by custody-transfer
// acknowledgement, section 6.2 — carried for protocol completeness even
// though the spec's Non-goals exclude custody-transfer *policy*.
type CustodySignal struct {
	Succeeded         bool
	Reason            StatusReportReasonCode
	TimeOfSignal      uint64
	CreationTimestamp CreationTimestamp
	SourceEID         EndpointID
}

func (cs *CustodySignal) MarshalCbor(w io.Writer) error {
	admin := AdminRecordTypeCustodySignal << 4
	status := cs.Reason
	if cs.Succeeded {
		status |= 0x80
	}
	if _, err := w.Write([]byte{admin, uint8(status)}); err != nil {
		return err
	}
	if err := writeSDNV(cs.TimeOfSignal, w); err != nil {
		return err
	}
	if err := writeSDNV(cs.CreationTimestamp.Time, w); err != nil {
		return err
	}
	if err := writeSDNV(cs.CreationTimestamp.SequenceNo, w); err != nil {
		return err
	}
	src := cs.SourceEID.String()
	if err := writeSDNV(uint64(len(src)), w); err != nil {
		return err
	}
	_, err := io.WriteString(w, src)
	return err
}

func (cs *CustodySignal) UnmarshalCbor(r io.Reader) error {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	if head[0]>>4 != AdminRecordTypeCustodySignal {
		return fmt.Errorf("bpv6: not a custody signal (admin type %d)", head[0]>>4)
	}
	cs.Succeeded = head[1]&0x80 != 0
	cs.Reason = StatusReportReasonCode(head[1] &^ 0x80)

	var err error
	if cs.TimeOfSignal, err = readSDNV(r); err != nil {
		return err
	}
	if cs.CreationTimestamp.Time, err = readSDNV(r); err != nil {
		return err
	}
	if cs.CreationTimestamp.SequenceNo, err = readSDNV(r); err != nil {
		return err
	}
	n, err := readSDNV(r)
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	cs.SourceEID, err = NewEndpointID(string(buf))
	return err
}

// ParseAdministrativeRecord dispatches payload data to a StatusReport or
// CustodySignal based on its leading admin-record-type nibble.
func ParseAdministrativeRecord(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("bpv6: empty administrative record")
	}
	r := bytes.NewReader(data)
	switch data[0] >> 4 {
	case AdminRecordTypeStatusReport:
		var sr StatusReport
		return &sr, sr.UnmarshalCbor(r)
	case AdminRecordTypeCustodySignal:
		var cs CustodySignal
		return &cs, cs.UnmarshalCbor(r)
	default:
		return nil, fmt.Errorf("bpv6: unrecognized administrative record type %d", data[0]>>4)
	}
}
