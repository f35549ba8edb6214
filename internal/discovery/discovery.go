// Package discovery implements peer/neighbor discovery over UDP multicast,
// announcing this node's reachable CLA addresses and handing each peer's
// announcement to a caller-supplied PeerHandler.
//
// Grounded on discovery/discovery.go's DiscoveryMessage CBOR framing and
// discovery/manager.go's schollz/peerdiscovery-based broadcast loop
// (dtn7-go), generalized from the teacher's hard-coded
// mtcp/tcpclv4-dispatch to a single CLA-name string carried in the
// announcement, since this node's CLA set (stcp/rf95/quiccl) differs.
package discovery

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/schollz/peerdiscovery"
	log "github.com/sirupsen/logrus"

	"github.com/d3tn/bpnode/internal/bpv7"
)

const (
	MulticastAddress4 = "224.23.23.23"
	MulticastAddress6 = "ff02::23"
	Port              = 35039
)

// Announcement advertises one CLA address this node accepts inbound
// contacts on.
type Announcement struct {
	CLAName  string
	Endpoint bpv7.EndpointID
	Port     uint
}

func (a *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString([]byte(a.CLAName), w); err != nil {
		return err
	}
	if err := cboring.Marshal(&a.Endpoint, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(a.Port), w)
}

func (a *Announcement) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	if n != 3 {
		return fmt.Errorf("discovery: announcement expects array of 3, got %d", n)
	}
	name, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	a.CLAName = string(name)
	if err := cboring.Unmarshal(&a.Endpoint, r); err != nil {
		return err
	}
	port, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	a.Port = uint(port)
	return nil
}

// MarshalAnnouncements encodes a CBOR array of Announcements.
func MarshalAnnouncements(as []Announcement) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := cboring.WriteArrayLength(uint64(len(as)), buf); err != nil {
		return nil, err
	}
	for i := range as {
		if err := cboring.Marshal(&as[i], buf); err != nil {
			return nil, fmt.Errorf("discovery: marshalling announcement %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalAnnouncements decodes a CBOR array of Announcements.
func UnmarshalAnnouncements(data []byte) ([]Announcement, error) {
	buf := bytes.NewReader(data)
	n, err := cboring.ReadArrayLength(buf)
	if err != nil {
		return nil, err
	}
	as := make([]Announcement, n)
	for i := range as {
		if err := cboring.Unmarshal(&as[i], buf); err != nil {
			return nil, fmt.Errorf("discovery: unmarshalling announcement %d: %w", i, err)
		}
	}
	return as, nil
}

// PeerHandler reacts to a discovered peer's announcement, typically by
// adding a contact to the routing table.
type PeerHandler func(ann Announcement, peerAddr string)

// Service runs the multicast broadcast/listen loop via
// github.com/schollz/peerdiscovery, in place of the teacher's hand-rolled
// UDP socket handling.
type Service struct {
	stop4, stop6 chan struct{}
}

// Start begins announcing own and listening for peer Announcements.
func Start(own []Announcement, intervalSec uint, ipv4, ipv6 bool, onPeer PeerHandler, hasEndpoint func(bpv7.EndpointID) bool) (*Service, error) {
	msg, err := MarshalAnnouncements(own)
	if err != nil {
		return nil, err
	}

	s := &Service{}
	notify := func(discovered peerdiscovery.Discovered) {
		handleDiscovered(discovered, onPeer, hasEndpoint)
	}

	type setting struct {
		active   bool
		address  string
		ipv      peerdiscovery.IPVersion
		stopChan *chan struct{}
	}
	settings := []setting{
		{ipv4, MulticastAddress4, peerdiscovery.IPv4, &s.stop4},
		{ipv6, MulticastAddress6, peerdiscovery.IPv6, &s.stop6},
	}

	for _, set := range settings {
		if !set.active {
			continue
		}
		*set.stopChan = make(chan struct{})

		go func(set setting) {
			_, err := peerdiscovery.Discover(peerdiscovery.Settings{
				Limit:            -1,
				Port:             fmt.Sprintf("%d", Port),
				MulticastAddress: set.address,
				Payload:          msg,
				Delay:            time.Duration(intervalSec) * time.Second,
				TimeLimit:        -1,
				StopChan:         *set.stopChan,
				AllowSelf:        true,
				IPVersion:        set.ipv,
				Notify:           notify,
			})
			if err != nil {
				log.WithError(err).Warn("discovery: peerdiscovery loop exited")
			}
		}(set)
	}

	return s, nil
}

func handleDiscovered(discovered peerdiscovery.Discovered, onPeer PeerHandler, hasEndpoint func(bpv7.EndpointID) bool) {
	anns, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("discovery: failed to parse announcement")
		return
	}
	for _, ann := range anns {
		if hasEndpoint(ann.Endpoint) {
			continue
		}
		onPeer(ann, discovered.Address)
	}
}

// Close stops broadcasting/listening.
func (s *Service) Close() {
	for _, c := range []chan struct{}{s.stop4, s.stop6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
