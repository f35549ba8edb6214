package bpv7

import "github.com/hashicorp/go-multierror"

// BundleControlFlags are the Bundle Processing Control Flags of section 4.1.3.
type BundleControlFlags uint16

const (
	StatusRequestDeletion       BundleControlFlags = 0x1000
	StatusRequestDelivery       BundleControlFlags = 0x0800
	StatusRequestForward        BundleControlFlags = 0x0400
	StatusRequestReception      BundleControlFlags = 0x0100
	ContainsManifest            BundleControlFlags = 0x0080
	RequestStatusTime           BundleControlFlags = 0x0040
	RequestUserApplicationAck   BundleControlFlags = 0x0020
	MustNotFragmented           BundleControlFlags = 0x0004
	AdministrativeRecordPayload BundleControlFlags = 0x0002
	IsFragment                  BundleControlFlags = 0x0001

	bundleCFReservedFields BundleControlFlags = 0xE218
)

// Has reports whether a flag or mask of flags is set.
func (bcf BundleControlFlags) Has(flag BundleControlFlags) bool { return bcf&flag != 0 }

func (bcf BundleControlFlags) checkValid() (errs error) {
	if bcf.Has(bundleCFReservedFields) {
		errs = multierror.Append(errs, newValidationError("bundle control flags use reserved bits"))
	}

	if bcf.Has(IsFragment) && bcf.Has(MustNotFragmented) {
		errs = multierror.Append(errs, newValidationError(
			"bundle control flags set both 'is a fragment' and 'must not be fragmented'"))
	}

	adminRecordOk := !bcf.Has(AdministrativeRecordPayload) ||
		(!bcf.Has(StatusRequestReception) &&
			!bcf.Has(StatusRequestForward) &&
			!bcf.Has(StatusRequestDelivery) &&
			!bcf.Has(StatusRequestDeletion))
	if !adminRecordOk {
		errs = multierror.Append(errs, newValidationError(
			"administrative record bundles must not request status reports"))
	}

	return
}

// BlockControlFlags are the Block Processing Control Flags of section 4.1.4.
type BlockControlFlags uint8

const (
	DeleteBundleIfCannotProcess BlockControlFlags = 0x08
	StatusReportIfCannotProcess BlockControlFlags = 0x04
	DiscardIfCannotProcess      BlockControlFlags = 0x02
	ReplicateInFragments        BlockControlFlags = 0x01

	blockCFReservedFields BlockControlFlags = 0xF0
)

// Has reports whether a flag or mask of flags is set.
func (bcf BlockControlFlags) Has(flag BlockControlFlags) bool { return bcf&flag != 0 }

func (bcf BlockControlFlags) checkValid() error {
	if bcf.Has(blockCFReservedFields) {
		return newValidationError("block control flags use reserved bits")
	}
	return nil
}

// validationError marks an error produced by CheckValid, as distinct from an
// I/O or parse error.
type validationError string

func newValidationError(msg string) error    { return validationError(msg) }
func (e validationError) Error() string       { return string(e) }
