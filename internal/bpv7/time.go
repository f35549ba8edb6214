package bpv7

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
)

// DtnTime counts seconds of Unix epoch time elapsed since the start of the
// year 2000 UTC, per section 4.1.6.
type DtnTime uint64

const (
	secondsUnixToY2K = 946684800

	// DtnTimeEpoch is the zero timestamp.
	DtnTimeEpoch DtnTime = 0
)

func (t DtnTime) Unix() int64    { return int64(t) + secondsUnixToY2K }
func (t DtnTime) Time() time.Time { return time.Unix(t.Unix(), 0).UTC() }
func (t DtnTime) String() string { return t.Time().Format("2006-01-02 15:04:05") }

// DtnTimeFromTime converts a time.Time into a DtnTime.
func DtnTimeFromTime(t time.Time) DtnTime {
	return DtnTime(t.UTC().Unix() - secondsUnixToY2K)
}

// DtnTimeNow returns the current UTC time as a DtnTime.
func DtnTimeNow() DtnTime { return DtnTimeFromTime(time.Now()) }

// CreationTimestamp pairs a DtnTime with a per-second sequence number, per
// section 4.1.7.
type CreationTimestamp [2]uint64

// NewCreationTimestamp builds a CreationTimestamp from a time and sequence.
func NewCreationTimestamp(t DtnTime, sequence uint64) CreationTimestamp {
	return CreationTimestamp{uint64(t), sequence}
}

func (ct CreationTimestamp) DtnTime() DtnTime     { return DtnTime(ct[0]) }
func (ct CreationTimestamp) SequenceNumber() uint64 { return ct[1] }
func (ct CreationTimestamp) IsZeroTime() bool     { return ct.DtnTime() == DtnTimeEpoch }

func (ct CreationTimestamp) String() string {
	return fmt.Sprintf("(%v, %d)", ct.DtnTime(), ct[1])
}

func (ct *CreationTimestamp) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range ct {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

func (ct *CreationTimestamp) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("bpv7: creation timestamp expects array of 2, got %d", l)
	}

	for i := range ct {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		ct[i] = v
	}
	return nil
}

// BundleID uniquely identifies a bundle within this node: a monotonic id
// assigned on ingest. External identity is (source, creation timestamp,
// fragment offset) — see Bundle.ID.
type BundleID uint64

// bundleIDSource hands out monotonically increasing internal bundle ids.
type bundleIDSource struct {
	next uint64
}

func (s *bundleIDSource) Next() BundleID {
	s.next++
	return BundleID(s.next)
}

// NewBundleIDSource creates a fresh monotonic BundleID generator, one per
// node instance.
func NewBundleIDSource() *bundleIDSource { return &bundleIDSource{} }
