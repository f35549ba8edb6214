// Package quiccl implements a convergence layer over QUIC: one bidirectional
// stream per bundle, opened on a long-lived per-contact connection.
//
// Grounded on pkg/cla/quicl/endpoint.go (dtn7-go)'s Connection-per-peer /
// stream-per-bundle shape; the length-prefixed framing is grounded on
// cla/stcp/client.go's "one packet, self-delimiting CBOR array" approach
// since quicl/endpoint.go's own stream framing is internal to that package's
// unexported helpers. Uses github.com/lucas-clemente/quic-go, as carried by
// this module's go.mod rather than the newer quic-go/quic-go fork the
// teacher's pkg/ tree migrated to.
package quiccl

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"

	quic "github.com/lucas-clemente/quic-go"

	"github.com/d3tn/bpnode/internal/cla"
)

const alpn = "bpnode-quiccl"

// Convergable dials a fresh QUIC connection and stream per Open call — one
// stream per bundle, matching STCP's own "no multiplexed framing" model but
// over QUIC's stream abstraction instead of a raw TCP connection.
type Convergable struct {
	tlsConf *tls.Config
}

func NewConvergable() (*Convergable, error) {
	tlsConf, err := selfSignedClientConfig()
	if err != nil {
		return nil, err
	}
	return &Convergable{tlsConf: tlsConf}, nil
}

func (c *Convergable) Open(address string) (cla.ConvergenceSender, error) {
	sess, err := quic.DialAddr(address, c.tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("quiccl: dial %s: %w", address, err)
	}
	stream, err := sess.OpenStreamSync(nil)
	if err != nil {
		sess.CloseWithError(0, "stream open failed")
		return nil, err
	}
	return &sender{session: sess, stream: stream, address: address}, nil
}

type sender struct {
	session quic.Connection
	stream  quic.Stream
	address string
}

func (s *sender) Name() string    { return "quiccl" }
func (s *sender) Address() string { return s.address }

// BeginPacket is a no-op: the CBOR indefinite-array framing is
// self-delimiting on the stream, as with stcp.
func (s *sender) BeginPacket(size int64) error { return nil }

func (s *sender) Writer() io.Writer { return s.stream }

func (s *sender) EndPacket() error { return s.stream.Close() }

func (s *sender) Close() error {
	return s.session.CloseWithError(0, "done")
}

// Listener accepts inbound QUIC connections, handing each accepted stream's
// bytes to onStream for parsing — mirrors Receiver's one-bundle-per-
// connection handling in package stcp, generalized to one-bundle-per-stream.
type Listener struct {
	listener quic.Listener
}

func Listen(address string, onStream func(io.Reader, string)) (*Listener, error) {
	tlsConf, err := selfSignedServerConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(address, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	l := &Listener{listener: ln}
	go l.acceptLoop(onStream)
	return l, nil
}

func (l *Listener) Name() string { return "quiccl" }
func (l *Listener) Close() error { return l.listener.Close() }

func (l *Listener) acceptLoop(onStream func(io.Reader, string)) {
	for {
		sess, err := l.listener.Accept(nil)
		if err != nil {
			return
		}
		go l.acceptStreams(sess, onStream)
	}
}

func (l *Listener) acceptStreams(sess quic.Connection, onStream func(io.Reader, string)) {
	remote := sess.RemoteAddr().String()
	for {
		stream, err := sess.AcceptStream(nil)
		if err != nil {
			return
		}
		onStream(stream, remote)
	}
}

// selfSignedServerConfig and selfSignedClientConfig generate an ephemeral
// keypair for QUIC's mandatory TLS handshake. Peer authentication for CLAs
// is out of scope here (spec's BPSec/security work is a separate concern);
// InsecureSkipVerify matches that this convergence layer trusts routing-
// table-configured addresses, not certificate identity.
func selfSignedServerConfig() (*tls.Config, error) {
	cert, err := generateCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{alpn}}, nil
}

func selfSignedClientConfig() (*tls.Config, error) {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}}, nil
}

func generateCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return tls.X509KeyPair(certPEM, keyPEM)
}
