package bpv6

// BundleControlFlags are the Bundle Processing Control Flags of RFC 5050
// section 4.3, reproduced as a bitmask analogous to
// internal/bpv7.BundleControlFlags.
type BundleControlFlags uint64

const (
	IsFragment                  BundleControlFlags = 1 << 0
	AdministrativeRecordPayload BundleControlFlags = 1 << 1
	MustNotFragmented           BundleControlFlags = 1 << 2
	CustodyTransferRequested    BundleControlFlags = 1 << 3
	SingletonDestination        BundleControlFlags = 1 << 4
	AcknowledgementRequested    BundleControlFlags = 1 << 5

	PriorityBulk      BundleControlFlags = 0 << 7
	PriorityNormal    BundleControlFlags = 1 << 7
	PriorityExpedited BundleControlFlags = 2 << 7
	priorityMask      BundleControlFlags = 3 << 7

	StatusRequestReception BundleControlFlags = 1 << 14
	StatusRequestCustody   BundleControlFlags = 1 << 15
	StatusRequestForward   BundleControlFlags = 1 << 16
	StatusRequestDelivery  BundleControlFlags = 1 << 17
	StatusRequestDeletion  BundleControlFlags = 1 << 18
)

func (bcf BundleControlFlags) Has(flag BundleControlFlags) bool { return bcf&flag != 0 }

// Priority extracts the two-bit priority field.
func (bcf BundleControlFlags) Priority() BundleControlFlags { return bcf & priorityMask }

// CanonicalBlockFlags are the per-block processing control flags of section
// 4.4.
type CanonicalBlockFlags uint64

const (
	BlockReplicateInEveryFragment    CanonicalBlockFlags = 1 << 0
	BlockReportIfCannotProcess       CanonicalBlockFlags = 1 << 1
	BlockDeleteBundleIfCannotProcess CanonicalBlockFlags = 1 << 2
	BlockLastBlock                   CanonicalBlockFlags = 1 << 3
	BlockDiscardIfCannotProcess      CanonicalBlockFlags = 1 << 4
	BlockForwardedWithoutProcessing  CanonicalBlockFlags = 1 << 5
	BlockContainsEIDReferenceField   CanonicalBlockFlags = 1 << 6
)

func (cbf CanonicalBlockFlags) Has(flag CanonicalBlockFlags) bool { return cbf&flag != 0 }
