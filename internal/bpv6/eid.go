package bpv6

import (
	"fmt"
	"strings"
)

// EndpointID is a BPv6 endpoint identifier, reconstructed from a
// scheme-offset/ssp-offset pair into the shared dictionary at unmarshal
// time. Any scheme is accepted and kept as given; only NodeID treats the
// "dtn" and "ipn" schemes specially.
type EndpointID struct {
	Scheme string
	SSP    string
}

// NewEndpointID parses a "scheme:ssp" URI.
func NewEndpointID(uri string) (EndpointID, error) {
	parts := strings.SplitN(uri, ":", 2)
	if len(parts) != 2 {
		return EndpointID{}, fmt.Errorf("bpv6: %q is not a scheme:ssp URI", uri)
	}
	return EndpointID{Scheme: parts[0], SSP: parts[1]}, nil
}

func (eid EndpointID) String() string { return eid.Scheme + ":" + eid.SSP }

// DtnNone returns the null endpoint "dtn:none".
func DtnNone() EndpointID { return EndpointID{Scheme: "dtn", SSP: "none"} }

// IsNone reports whether eid is the null endpoint.
func (eid EndpointID) IsNone() bool { return eid.Scheme == "dtn" && eid.SSP == "none" }

// NodeID strips a dtn demux suffix or ipn service number, mirroring
// internal/bpv7.EndpointID.NodeID.
func (eid EndpointID) NodeID() EndpointID {
	switch eid.Scheme {
	case "dtn":
		if eid.IsNone() {
			return eid
		}
		trimmed := strings.TrimPrefix(eid.SSP, "//")
		if i := strings.Index(trimmed, "/"); i >= 0 {
			return EndpointID{Scheme: "dtn", SSP: trimmed[:i+1]}
		}
		return EndpointID{Scheme: "dtn", SSP: trimmed + "/"}
	case "ipn":
		if i := strings.Index(eid.SSP, "."); i >= 0 {
			return EndpointID{Scheme: "ipn", SSP: eid.SSP[:i] + ".0"}
		}
		return eid
	default:
		return eid
	}
}

// dictionary accumulates the deduplicated NUL-terminated scheme and SSP
// strings referenced by a primary block's four endpoints (destination,
// source, report-to, custodian), per RFC 5050 section 4.5.
type dictionary struct {
	buf     []byte
	offsets map[string]uint64
}

func newDictionary() *dictionary {
	return &dictionary{offsets: make(map[string]uint64)}
}

// intern returns buf's byte offset, appending a NUL-terminated copy the
// first time a distinct string is seen.
func (d *dictionary) intern(s string) uint64 {
	if off, ok := d.offsets[s]; ok {
		return off
	}
	off := uint64(len(d.buf))
	d.buf = append(d.buf, []byte(s)...)
	d.buf = append(d.buf, 0)
	d.offsets[s] = off
	return off
}

// eidOffsets returns the (scheme-offset, ssp-offset) pair for eid, interning
// both strings into the dictionary.
func (d *dictionary) eidOffsets(eid EndpointID) (schemeOff, sspOff uint64) {
	return d.intern(eid.Scheme), d.intern(eid.SSP)
}

// lookupCString reads a NUL-terminated string starting at off.
func lookupCString(buf []byte, off uint64) (string, error) {
	if off > uint64(len(buf)) {
		return "", fmt.Errorf("bpv6: dictionary offset %d out of range (len %d)", off, len(buf))
	}
	end := off
	for end < uint64(len(buf)) && buf[end] != 0 {
		end++
	}
	if end == uint64(len(buf)) {
		return "", fmt.Errorf("bpv6: dictionary entry at offset %d is not NUL-terminated", off)
	}
	return string(buf[off:end]), nil
}

func eidFromDictionary(buf []byte, schemeOff, sspOff uint64) (EndpointID, error) {
	scheme, err := lookupCString(buf, schemeOff)
	if err != nil {
		return EndpointID{}, err
	}
	ssp, err := lookupCString(buf, sspOff)
	if err != nil {
		return EndpointID{}, err
	}
	return EndpointID{Scheme: scheme, SSP: ssp}, nil
}
