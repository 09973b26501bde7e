package rtuio

import "errors"

// Sentinel errors returned by Port operations. Master classifies these
// into the error kinds defined in internal/mbmaster.
var (
	ErrNotOpen       = errors.New("rtuio: port not open")
	ErrAlreadyOpen   = errors.New("rtuio: port already open, close first")
	ErrNoPortMatch   = errors.New("rtuio: no serial device matches configured port name")
	ErrTimeout       = errors.New("rtuio: timed out waiting for reply")
	ErrReplyAborted  = errors.New("rtuio: link closed while request was in flight")
	ErrFrameTooShort = errors.New("rtuio: frame shorter than address+function+crc")
	ErrCRCMismatch   = errors.New("rtuio: CRC-16 mismatch")
	ErrAddressMismatch = errors.New("rtuio: reply address does not match request server")
)
