package session

import "errors"

// Terminal reasons a session's read loop exits. These are not failures
// of the process, only of one connection.
var (
	ErrUnknownDevice  = errors.New("session: unknown device, closing")
	ErrBadHandshake   = errors.New("session: bad IMEI handshake, closing")
	ErrProtocolError  = errors.New("session: malformed AVL frame, closing")
	ErrBufferOverflow = errors.New("session: framing buffer overflow, closing")
	ErrIdleTimeout    = errors.New("session: idle timeout, closing")
	ErrSocketWrite    = errors.New("session: socket write failed, closing")
)
