// Package aap implements the Application Agent Protocol wire messages of
// spec §6.3: a type byte plus type-dependent EID/payload/bundle-id fields,
// and the validation table governing which fields each type requires.
//
// Grounded on original_source/components/aap/aap.c's aap_message_is_valid,
// reexpressed as a Go validation method instead of a single monolithic
// branch-chain.
package aap

import (
	"fmt"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// Type is an AAP message type.
type Type uint8

const (
	TypeACK Type = iota
	TypeNACK
	TypePING
	TypeCANCEL
	TypeREGISTER
	TypeSENDBUNDLE
	TypeRECVBUNDLE
	TypeSENDCONFIRM
	TypeCANCELBUNDLE
	TypeWELCOME
	TypeSENDBIBE
	TypeRECVBIBE

	typeInvalid Type = 255
)

func (t Type) String() string {
	switch t {
	case TypeACK:
		return "ACK"
	case TypeNACK:
		return "NACK"
	case TypePING:
		return "PING"
	case TypeCANCEL:
		return "CANCEL"
	case TypeREGISTER:
		return "REGISTER"
	case TypeSENDBUNDLE:
		return "SENDBUNDLE"
	case TypeRECVBUNDLE:
		return "RECVBUNDLE"
	case TypeSENDCONFIRM:
		return "SENDCONFIRM"
	case TypeCANCELBUNDLE:
		return "CANCELBUNDLE"
	case TypeWELCOME:
		return "WELCOME"
	case TypeSENDBIBE:
		return "SENDBIBE"
	case TypeRECVBIBE:
		return "RECVBIBE"
	default:
		return "INVALID"
	}
}

const maxEIDLength = 65535

// Message is one AAP protocol message.
type Message struct {
	Type     Type
	EID      string // required for REGISTER/SENDBUNDLE/RECVBUNDLE/SENDBIBE/RECVBIBE/WELCOME
	Payload  []byte // required for SENDBUNDLE/RECVBUNDLE/SENDBIBE/RECVBIBE (may be empty, not nil)
	BundleID uint64 // required (nonzero) for SENDCONFIRM/CANCELBUNDLE
}

func needsEID(t Type) bool {
	switch t {
	case TypeREGISTER, TypeSENDBUNDLE, TypeRECVBUNDLE, TypeSENDBIBE, TypeRECVBIBE, TypeWELCOME:
		return true
	default:
		return false
	}
}

// eidValidated is the subset of needsEID types whose EID must additionally
// parse as a well-formed, schemed endpoint — REGISTER's sub-EID is scheme-
// ambiguous and is validated by the agent manager instead, per the source
// comment this is grounded on.
func eidValidated(t Type) bool {
	switch t {
	case TypeSENDBUNDLE, TypeRECVBUNDLE, TypeWELCOME:
		return true
	default:
		return false
	}
}

func needsPayload(t Type) bool {
	switch t {
	case TypeSENDBUNDLE, TypeRECVBUNDLE, TypeSENDBIBE, TypeRECVBIBE:
		return true
	default:
		return false
	}
}

func needsBundleID(t Type) bool {
	switch t {
	case TypeSENDCONFIRM, TypeCANCELBUNDLE:
		return true
	default:
		return false
	}
}

// Validate checks m against the per-type field table of spec §6.3.
func (m Message) Validate() error {
	if m.Type > TypeRECVBIBE {
		return fmt.Errorf("aap: unknown message type %d", m.Type)
	}

	if needsEID(m.Type) {
		if m.EID == "" || len(m.EID) > maxEIDLength {
			return fmt.Errorf("aap: %s requires an eid of length 1-%d", m.Type, maxEIDLength)
		}
		if eidValidated(m.Type) {
			if _, err := bpv7.NewEndpointID(m.EID); err != nil {
				return fmt.Errorf("aap: %s carries an invalid eid %q: %w", m.Type, m.EID, err)
			}
		}
	} else if m.EID != "" {
		return fmt.Errorf("aap: %s must not carry an eid", m.Type)
	}

	if needsPayload(m.Type) && m.Payload == nil {
		return fmt.Errorf("aap: %s requires a payload", m.Type)
	}
	if !needsPayload(m.Type) && m.Payload != nil {
		return fmt.Errorf("aap: %s must not carry a payload", m.Type)
	}

	if needsBundleID(m.Type) && m.BundleID == 0 {
		return fmt.Errorf("aap: %s requires a nonzero bundle id", m.Type)
	}

	return nil
}
