// Package bpv6 implements the legacy Bundle Protocol version 6 wire format
// (RFC 5050): SDNV (Self-Delimiting Numeric Value) encoded lengths, a shared
// dictionary byte array for endpoint references, and a primary-block-plus-
// canonical-blocks layout analogous to BPv7's but without CBOR.
//
// Grounded on bpa/*.go (dtn7-go) for package shape — that package only
// carries a placeholder error type in the teacher, so the wire format itself
// follows original_source/include/bundle6/fragment.h's RFC-5050-based model
// and this module's own internal/bpv7 package for naming and method
// conventions (PrimaryBlock/CanonicalBlock/ExtensionBlock split, CheckValid,
// incremental Parser).
package bpv6

import (
	"fmt"
	"io"
)

// writeSDNV encodes v as a Self-Delimiting Numeric Value: big-endian, 7 bits
// of value per byte, continuation bit (0x80) set on every byte but the last.
func writeSDNV(v uint64, w io.Writer) error {
	var tmp [10]byte
	n := 0
	tmp[n] = byte(v & 0x7f)
	n++
	v >>= 7
	for v > 0 {
		tmp[n] = byte(v&0x7f) | 0x80
		n++
		v >>= 7
	}

	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = tmp[n-1-i]
	}
	_, err := w.Write(buf)
	return err
}

// readSDNV decodes one SDNV from r.
func readSDNV(r io.Reader) (uint64, error) {
	var v uint64
	var b [1]byte
	for i := 0; i < 10; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		v = (v << 7) | uint64(b[0]&0x7f)
		if b[0]&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("bpv6: SDNV longer than 10 bytes")
}

// sdnvLen returns the encoded byte length of v without writing it, used to
// size block-length prefixes.
func sdnvLen(v uint64) int {
	n := 1
	v >>= 7
	for v > 0 {
		n++
		v >>= 7
	}
	return n
}
