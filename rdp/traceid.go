package rdp

import "github.com/rs/xid"

// newTraceID mints a process-visible, sortable identifier for a
// connection's lifetime, distinct from the wire-level 32-bit connection
// id (§3 "Identity"), used to correlate log lines and metric labels
// across a connection's life. Grounded on runZeroInc-sockstats's use of
// xid.New() to mint the identifiers its exported series attach to.
func newTraceID() string {
	return xid.New().String()
}
