// Package handshake implements the IMEI login frame codec: the
// 2-byte length prefixed ASCII-digit identity frame a device sends as
// the first message on a connection.
//
// Grounded on internal/parser/login.go's shape (a single dedicated
// parse function returning a typed identity value) but replaces its BCD
// decode with ASCII-digit validation, since Teltonika sends the IMEI as
// decimal digits, not BCD-packed nibbles.
package handshake

import (
	"errors"
	"fmt"

	"github.com/telematics/avl-gateway/internal/framing"
)

// MinIMEILength and MaxIMEILength bound the digit count.
const (
	MinIMEILength = 15
	MaxIMEILength = 17
)

// Result is the outcome of one TryParse call.
type Result int

const (
	// NeedMore indicates insufficient buffered bytes; the caller should
	// return to the read loop.
	NeedMore Result = iota
	// Frame indicates a complete, well-formed IMEI frame was consumed.
	Frame
	// NotIMEI indicates the length prefix is out of the legal IMEI range;
	// this is not itself a protocol violation in isolation, but the
	// session treats it as a bad handshake and closes the connection.
	NotIMEI
	// Malformed indicates the length prefix was plausible but the
	// payload contained non-digit bytes.
	Malformed
)

// ErrNotASCIIDigits is wrapped into the error returned alongside Malformed.
var ErrNotASCIIDigits = errors.New("handshake: IMEI payload is not all ASCII digits")

// TryParse attempts to extract one IMEI frame from the front of buf. On
// Frame, consumed is the number of bytes to Drop from the buffer and
// imei holds the decoded digit string.
func TryParse(buf *framing.Buffer) (result Result, imei string, consumed int, err error) {
	n, ok := buf.ReadU16BE(0)
	if !ok {
		return NeedMore, "", 0, nil
	}
	if int(n) < MinIMEILength || int(n) > MaxIMEILength {
		return NotIMEI, "", 0, nil
	}
	total := 2 + int(n)
	digits, ok := buf.Peek(2, int(n))
	if !ok {
		return NeedMore, "", 0, nil
	}
	for i, c := range digits {
		if c < '0' || c > '9' {
			return Malformed, "", 0, fmt.Errorf("handshake: byte %d (0x%02X) at IMEI offset %d: %w", i, c, i, ErrNotASCIIDigits)
		}
	}
	return Frame, string(digits), total, nil
}
