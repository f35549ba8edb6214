package bpv7

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

// CRCType indicates which CRC, if any, protects a block.
type CRCType uint64

const (
	CRCNo   CRCType = 0
	CRCType16 CRCType = 1
	CRCType32 CRCType = 2
)

func (c CRCType) String() string {
	switch c {
	case CRCNo:
		return "none"
	case CRCType16:
		return "16"
	case CRCType32:
		return "32"
	default:
		return "unknown"
	}
}

// crc16table implements CRC-16/X.25: poly 0x1021 reflected, seed 0xFFFF, no
// final XOR. crc16.CCITT in howeyc/crc16 is exactly this variant.
var crc16table = crc16.MakeTable(crc16.CCITT)

// crc32table implements CRC-32C (Castagnoli): hash/crc32 already seeds and
// final-XORs with 0xFFFFFFFF and reflects input/output, matching the spec.
var crc32table = crc32.MakeTable(crc32.Castagnoli)

func emptyCRC(t CRCType) []byte {
	switch t {
	case CRCNo:
		return nil
	case CRCType16:
		return make([]byte, 2)
	case CRCType32:
		return make([]byte, 4)
	default:
		panic("bpv7: unknown CRCType")
	}
}

// calculateCRCBuff appends a zeroed CRC field of type t to buff (which holds
// the block's encoding up to that field), computes the CRC over all of buff's
// bytes and returns the CRC bytes in network byte order.
func calculateCRCBuff(buff *bytes.Buffer, t CRCType) ([]byte, error) {
	data := emptyCRC(t)
	if err := cboring.WriteByteString(data, buff); err != nil {
		return nil, err
	}

	switch t {
	case CRCNo:
	case CRCType16:
		binary.BigEndian.PutUint16(data, crc16.Checksum(buff.Bytes(), crc16table))
	case CRCType32:
		binary.BigEndian.PutUint32(data, crc32.Checksum(buff.Bytes(), crc32table))
	default:
		panic("bpv7: unknown CRCType")
	}

	return data, nil
}
