package rdp

import "time"

// defaultMaxMessageSize is the host-chosen "large multi-fragment message"
// every valid segmax/segbmax combination must be able to carry in one
// send window. 32 KiB fits comfortably within the default 32-segment,
// 1472-byte-segment window.
const defaultMaxMessageSize = 32 * 1024

// Config holds the recognized RDP options (§6). There is no file or XML
// parser here: spec.md explicitly places configuration loading outside
// the core's scope, so Config is assembled by the embedding application
// and handed to NewHandle as a plain struct, the way the teacher's own
// connection configs are constructed by callers rather than parsed by the
// protocol engine itself.
type Config struct {
	ConnectTimeout     time.Duration
	ConnectRetries     int
	InitialDataTimeout time.Duration

	TotalDataRetryTimeout time.Duration
	MinDataRetries        int

	PersistInterval time.Duration
	TotalAppTimeout time.Duration

	LinkTimeout      time.Duration
	KeepaliveRetries int

	FastRetransmitAckCounter int

	DelayedAckTimeout time.Duration

	TimeWait time.Duration

	SegMax  uint16
	SegBMax uint16

	// MaxSynDataLen caps the handshake payload independent of SegBMax,
	// per the ARDP original's handshake buffer cap (see SPEC_FULL.md).
	MaxSynDataLen int

	// MaxMessageSize is the largest application message CheckConfigValid
	// requires SegMax*maxDlen to accommodate.
	MaxMessageSize int

	// SendDisconnectReason turns on the non-spec extension bit described
	// in SPEC_FULL.md point 3; default off keeps the wire format an exact
	// match for spec.md's table.
	SendDisconnectReason bool
}

// DefaultConfig returns sensible defaults for every recognized option.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:           300 * time.Millisecond,
		ConnectRetries:           10,
		InitialDataTimeout:       1000 * time.Millisecond,
		TotalDataRetryTimeout:    30 * time.Second,
		MinDataRetries:           3,
		PersistInterval:          1 * time.Second,
		TotalAppTimeout:          30 * time.Second,
		LinkTimeout:              30 * time.Second,
		KeepaliveRetries:         5,
		FastRetransmitAckCounter: 3,
		DelayedAckTimeout:        100 * time.Millisecond,
		TimeWait:                 2 * time.Second,
		SegMax:                   32,
		SegBMax:                  1472,
		MaxSynDataLen:            2048,
		MaxMessageSize:           defaultMaxMessageSize,
	}
}

const (
	// udpHeaderSize accounts for the 8-byte UDP header when validating
	// that SegBMax leaves room for a fixed header and its EACK mask.
	udpHeaderSize = 8
)

// CheckConfigValid verifies that segmax segments of segbmax bytes can
// carry at least one application message of maxMessageSize bytes, and that a
// segment's header (including worst-case EACK mask) fits within segbmax,
// per §9. The call fails before any connection state is created.
func CheckConfigValid(segmax, segbmax uint16, maxMessageSize int) error {
	if segmax == 0 || segmax > 256 {
		return ErrInvalidConfig
	}
	maskWords := (int(segmax) + 31) / 32
	minSegBMax := udpHeaderSize + fixedHeaderSize + maskWords*4
	if int(segbmax) <= minSegBMax {
		return ErrInvalidConfig
	}
	maxDlen := int(segbmax) - fixedHeaderSize
	if maxMessageSize > int(segmax)*maxDlen {
		return ErrInvalidConfig
	}
	return nil
}
