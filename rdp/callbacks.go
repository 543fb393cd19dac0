package rdp

// Callbacks is the flat table of function pointers a Handle invokes as
// the dispatch loop drives connections through the state machine (§6,
// §9 "Dynamic dispatch"). Grounded on the teacher's table-of-methods
// composition style (Handler.SetLoggers, ControlBlock.SetLogger)
// generalized to a struct of function fields rather than methods, since
// the core has no fixed application type to attach methods to.
//
// Every field is optional; a nil entry is simply not invoked. Callbacks
// run on the dispatch loop's own stack (§5) and must not block.
type Callbacks struct {
	// Accept decides whether to allow an incoming connection. Returning
	// false rejects it with RST; true admits it into SYN_RCVD. For the
	// crossing SYN of a simultaneous open the return value is not
	// consulted: the connection moves to SYN_RCVD either way.
	Accept func(h *Handle, remote Addr, conn *Conn, synPayload []byte, status error) bool

	// Connect reports that conn entered OPEN, or that establishment
	// failed (status set; conn is removed from the handle as soon as the
	// callback returns).
	Connect func(h *Handle, conn *Conn, passive bool, synPayload []byte, status error)

	// Disconnect reports that conn entered CLOSE_WAIT.
	Disconnect func(h *Handle, conn *Conn, status DisconnectStatus)

	// Recv delivers a complete reassembled message as a linked run of
	// fragment descriptors.
	Recv func(h *Handle, conn *Conn, first *Fragment, status SendStatus)

	// SendComplete reports that a previously submitted message has been
	// acknowledged, TTL-expired, or cancelled due to disconnect. buf is
	// the exact pointer passed to Send.
	SendComplete func(h *Handle, conn *Conn, buf []byte, length int, status SendStatus)

	// SendWindowChanged reports a change in the peer's advertised window.
	SendWindowChanged func(h *Handle, conn *Conn, newWindow uint16, status error)
}

// Hooks is a separate test-interposition table. Its entries observe every
// inbound segment routed to a connection, every bare ACK or NUL segment
// sent (Conn.sendRaw), and every timer fire; none of them mirrors a
// Callbacks entry. SYN, RST and data segments are not reported to
// OnSegmentOut.
type Hooks struct {
	OnSegmentIn  func(h *Handle, conn *Conn, header FixedHeader)
	OnSegmentOut func(h *Handle, conn *Conn, header FixedHeader)
	OnTimerFire  func(h *Handle, conn *Conn, name string)
}
