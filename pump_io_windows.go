//go:build windows

package msgloop

// NewMessagePumpIO is unimplemented on Windows. A real implementation
// would back MessagePumpIO with an I/O completion port, mirroring
// message_pump_win.cc's MessagePumpForIO, but the IOCP-specific wiring is
// explicitly out of scope for this package; only the MessagePumpIO contract itself is portable.
func NewMessagePumpIO() (MessagePumpIO, error) {
	return nil, ErrIOPumpUnsupported
}
