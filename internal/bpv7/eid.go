// Package bpv7 implements the Bundle Protocol version 7 wire format: CBOR
// encoded endpoint identifiers, primary and canonical blocks, extension
// blocks, CRC validation and an incremental parser.
package bpv7

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dtn7/cboring"
)

// EndpointType is a concrete URI scheme for an EndpointID, e.g. "dtn" or "ipn".
type EndpointType interface {
	SchemeName() string
	SchemeNo() uint64
	Authority() string
	Path() string
	IsSingleton() bool
	CheckValid() error
	MarshalCbor(io.Writer) error
	fmt.Stringer
}

// EndpointID represents an Endpoint ID as defined in section 4.1.5.1 of
// draft-ietf-dtn-bpbis.
type EndpointID struct {
	EndpointType EndpointType
}

const (
	dtnSchemeName string = "dtn"
	dtnSchemeNo   uint64 = 1
	dtnNoneSsp    string = "none"

	ipnSchemeName string = "ipn"
	ipnSchemeNo   uint64 = 2
)

var eidUriRe = regexp.MustCompile("^([[:alnum:]]+):.+$")

// NewEndpointID parses an URI, e.g. "dtn://seven/" or "ipn:23.42".
func NewEndpointID(uri string) (EndpointID, error) {
	matches := eidUriRe.FindStringSubmatch(uri)
	if len(matches) == 0 {
		return EndpointID{}, fmt.Errorf("bpv7: %q does not match an endpoint URI", uri)
	}

	switch matches[1] {
	case dtnSchemeName:
		et, err := newDtnEndpoint(uri)
		return EndpointID{et}, err
	case ipnSchemeName:
		et, err := newIpnEndpoint(uri)
		return EndpointID{et}, err
	default:
		return EndpointID{}, fmt.Errorf("bpv7: no handler registered for URI scheme %q", matches[1])
	}
}

// MustNewEndpointID parses an URI like NewEndpointID, but panics on error.
func MustNewEndpointID(uri string) EndpointID {
	eid, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return eid
}

// DtnNone returns the null endpoint "dtn:none".
func DtnNone() EndpointID {
	return EndpointID{dtnEndpoint{ssp: dtnNoneSsp}}
}

func (eid EndpointID) Authority() string { return eid.EndpointType.Authority() }
func (eid EndpointID) Path() string      { return eid.EndpointType.Path() }
func (eid EndpointID) IsSingleton() bool {
	if eid.EndpointType == nil {
		return false
	}
	return eid.EndpointType.IsSingleton()
}

// NodeID strips the demux/service part, returning the EID identifying only
// the node (scheme + authority).
func (eid EndpointID) NodeID() EndpointID {
	switch et := eid.EndpointType.(type) {
	case ipnEndpoint:
		return EndpointID{ipnEndpoint{node: et.node, service: 0}}
	case dtnEndpoint:
		if et.ssp == dtnNoneSsp {
			return eid
		}
		return EndpointID{dtnEndpoint{ssp: strings.TrimPrefix(et.Authority(), "//") + "/"}}
	default:
		return eid
	}
}

// SameNode checks if two Endpoints belong to the same Node, based on scheme
// and authority.
func (eid EndpointID) SameNode(other EndpointID) bool {
	if eid.EndpointType == nil || other.EndpointType == nil {
		return false
	}
	return eid.EndpointType.SchemeName() == other.EndpointType.SchemeName() &&
		eid.EndpointType.Authority() == other.EndpointType.Authority()
}

func (eid EndpointID) CheckValid() error {
	if eid.EndpointType == nil {
		return fmt.Errorf("bpv7: EndpointID has no EndpointType")
	}
	return eid.EndpointType.CheckValid()
}

func (eid EndpointID) String() string {
	if eid.EndpointType == nil {
		return DtnNone().String()
	}
	return eid.EndpointType.String()
}

// MarshalCbor writes the 2-element [scheme, ssp] CBOR pair for this EID.
func (eid *EndpointID) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(eid.EndpointType.SchemeNo(), w); err != nil {
		return err
	}
	return eid.EndpointType.MarshalCbor(w)
}

// UnmarshalCbor reads the 2-element [scheme, ssp] CBOR pair for an EID.
func (eid *EndpointID) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("bpv7: EndpointID expects array of 2 elements, not %d", l)
	}

	scheme, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	switch scheme {
	case dtnSchemeNo:
		var e dtnEndpoint
		if err := e.UnmarshalCbor(r); err != nil {
			return err
		}
		eid.EndpointType = e
	case ipnSchemeNo:
		var e ipnEndpoint
		if err := e.UnmarshalCbor(r); err != nil {
			return err
		}
		eid.EndpointType = e
	default:
		return fmt.Errorf("bpv7: no URI scheme registered for scheme number %d", scheme)
	}

	return nil
}

// dtnEndpoint describes the "dtn" URI scheme.
type dtnEndpoint struct {
	ssp string
}

func newDtnEndpoint(uri string) (EndpointType, error) {
	re := regexp.MustCompile("^" + dtnSchemeName + ":(.+)$")
	if !re.MatchString(uri) {
		return nil, fmt.Errorf("bpv7: %q is not a dtn endpoint", uri)
	}
	return dtnEndpoint{ssp: re.FindStringSubmatch(uri)[1]}, nil
}

func (dtnEndpoint) SchemeName() string { return dtnSchemeName }
func (dtnEndpoint) SchemeNo() uint64   { return dtnSchemeNo }

func (e dtnEndpoint) parseUri() (authority, path string) {
	full := e.String()
	if !strings.HasPrefix(e.ssp, "//") {
		full = dtnSchemeName + "://" + e.ssp
	}

	u, err := url.Parse(full)
	if err != nil {
		return
	}
	return u.Hostname(), u.RequestURI()
}

func (e dtnEndpoint) Authority() string { a, _ := e.parseUri(); return a }
func (e dtnEndpoint) Path() string      { _, p := e.parseUri(); return p }

// IsSingleton is false only for the group-like "dtn:none" and for multicast
// style URIs that a deployment may register; in the absence of a group
// registry every other dtn endpoint is treated as a singleton.
func (e dtnEndpoint) IsSingleton() bool { return e.ssp != dtnNoneSsp }

func (dtnEndpoint) CheckValid() error { return nil }

func (e dtnEndpoint) String() string { return fmt.Sprintf("%s:%s", dtnSchemeName, e.ssp) }

func (e dtnEndpoint) MarshalCbor(w io.Writer) error {
	if e.ssp == dtnNoneSsp {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteTextString(e.ssp, w)
}

func (e *dtnEndpoint) UnmarshalCbor(r io.Reader) error {
	m, n, err := cboring.ReadMajors(r)
	if err != nil {
		return err
	}

	switch m {
	case cboring.UInt:
		e.ssp = dtnNoneSsp
	case cboring.TextString:
		raw, err := cboring.ReadRawBytes(n, r)
		if err != nil {
			return err
		}
		e.ssp = string(raw)
	default:
		return fmt.Errorf("bpv7: dtn endpoint: unexpected major type 0x%X", m)
	}

	return nil
}

// ipnEndpoint describes the "ipn" URI scheme, RFC 6260.
type ipnEndpoint struct {
	node    uint64
	service uint64
}

func newIpnEndpoint(uri string) (EndpointType, error) {
	re := regexp.MustCompile(`^` + ipnSchemeName + `:(\d+)\.(\d+)$`)
	matches := re.FindStringSubmatch(uri)
	if len(matches) != 3 {
		return nil, fmt.Errorf("bpv7: %q is not an ipn endpoint", uri)
	}

	node, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return nil, err
	}
	service, err := strconv.ParseUint(matches[2], 10, 64)
	if err != nil {
		return nil, err
	}

	e := ipnEndpoint{node: node, service: service}
	return e, e.CheckValid()
}

func (ipnEndpoint) SchemeName() string        { return ipnSchemeName }
func (ipnEndpoint) SchemeNo() uint64          { return ipnSchemeNo }
func (e ipnEndpoint) Authority() string       { return fmt.Sprintf("%d", e.node) }
func (e ipnEndpoint) Path() string            { return fmt.Sprintf("%d", e.service) }
func (ipnEndpoint) IsSingleton() bool         { return true }

func (e ipnEndpoint) CheckValid() error {
	if e.node < 1 || e.service < 1 {
		return fmt.Errorf("bpv7: ipn node and service numbers must be >= 1")
	}
	return nil
}

func (e ipnEndpoint) String() string { return fmt.Sprintf("%s:%d.%d", ipnSchemeName, e.node, e.service) }

func (e ipnEndpoint) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, n := range []uint64{e.node, e.service} {
		if err := cboring.WriteUInt(n, w); err != nil {
			return err
		}
	}
	return nil
}

func (e *ipnEndpoint) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("bpv7: ipn endpoint expects array of 2 elements, not %d", n)
	}

	for _, f := range []*uint64{&e.node, &e.service} {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
