package avl

import (
	"fmt"

	"github.com/telematics/avl-gateway/internal/wire"
)

// Result mirrors the shape of internal/handshake.TryParse's result enum,
// adapted to the AVL frame's resync behavior.
type Result int

const (
	// NeedMore means the buffer doesn't yet hold a full frame (or even a
	// full preamble); the caller should wait for more bytes.
	NeedMore Result = iota
	// Frame means a complete frame was decoded. Consumed bytes should be
	// dropped from the buffer regardless of whether a non-nil (non-fatal)
	// CRC error accompanies it.
	Frame
	// Resync means leading garbage was found and skipped; the caller
	// should drop the returned consumed count and call TryParse again.
	Resync
	// Malformed means the frame's declared structure could not be
	// reconciled with its bytes, or resync ran past MaxResyncBytes
	// without finding a plausible preamble. The caller should drop the
	// returned consumed count and close the connection.
	Malformed
)

const (
	codecID8         = 0x08
	codec8Extended   = 0x8E
	minDataFieldLen  = 12
	preambleWidth    = 4
	dataFieldLenSize = 4
	crcFieldSize     = 4
)

// TryParse attempts to decode one AVL frame from the front of data. It
// never mutates data; the caller drops `consumed` bytes from its framing
// buffer on every non-NeedMore result.
//
// A CRC mismatch is reported as a non-nil *CRCMismatchError alongside a
// Frame result when opts.StrictCRC is false (the frame is still
// delivered); when opts.StrictCRC is true the same condition instead
// yields Malformed with no records.
func TryParse(data []byte, opts Options) (Result, []Record, int, error) {
	if len(data) < preambleWidth {
		return NeedMore, nil, 0, nil
	}

	if beU32(data[0:preambleWidth]) != 0 {
		return resync(data, opts)
	}

	if len(data) < preambleWidth+dataFieldLenSize {
		return NeedMore, nil, 0, nil
	}

	dataFieldLength := int(beU32(data[preambleWidth : preambleWidth+dataFieldLenSize]))
	if dataFieldLength < minDataFieldLen || dataFieldLength > opts.MaxDataFieldLength {
		return Malformed, nil, preambleWidth + dataFieldLenSize, fmt.Errorf("dataFieldLength %d out of range: %w", dataFieldLength, ErrMalformed)
	}

	bodyStart := preambleWidth + dataFieldLenSize
	totalLen := bodyStart + dataFieldLength + crcFieldSize
	if len(data) < totalLen {
		return NeedMore, nil, 0, nil
	}

	body := data[bodyStart : bodyStart+dataFieldLength]

	records, consumedErr := decodeBody(body, opts)
	if consumedErr != nil {
		return Malformed, nil, totalLen, consumedErr
	}

	crcDeclared := beU32(data[bodyStart+dataFieldLength : totalLen])
	computed := wire.CalculateCRC16IBM(body)
	if uint16(crcDeclared) != computed {
		crcErr := &CRCMismatchError{Expected: uint16(crcDeclared), Computed: computed}
		if opts.StrictCRC {
			return Malformed, nil, totalLen, crcErr
		}
		return Frame, records, totalLen, crcErr
	}

	return Frame, records, totalLen, nil
}

// resync hunts for the next plausible zero preamble within
// MaxResyncBytes.
func resync(data []byte, _ Options) (Result, []Record, int, error) {
	limit := MaxResyncBytes
	if limit > len(data)-1 {
		limit = len(data) - 1
	}

	for i := 1; i <= limit; i++ {
		if len(data) < i+preambleWidth {
			return NeedMore, nil, 0, nil
		}
		if beU32(data[i:i+preambleWidth]) == 0 {
			return Resync, nil, i, nil
		}
	}

	if limit >= MaxResyncBytes {
		return Malformed, nil, MaxResyncBytes, ErrResyncExhausted
	}

	return NeedMore, nil, 0, nil
}

// decodeBody decodes the codec id, record count, records, and trailing
// record count within one frame's data field.
func decodeBody(body []byte, opts Options) ([]Record, error) {
	const headerLen = 2 // codec id + leading record count
	if len(body) < headerLen+1 {
		return nil, fmt.Errorf("data field too short for header: %w", ErrMalformed)
	}

	codec := body[0]
	var extended bool
	switch codec {
	case codecID8:
		extended = false
	case codec8Extended:
		extended = true
	default:
		return nil, fmt.Errorf("codec id 0x%02X: %w", codec, ErrUnsupportedCodec)
	}

	recordCount := int(body[1])

	records, consumed, err := decodeRecords(body[headerLen:], recordCount, extended)
	if err != nil {
		return nil, err
	}

	trailingOffset := headerLen + consumed
	if len(body) < trailingOffset+1 {
		return nil, fmt.Errorf("data field too short for trailing record count: %w", ErrMalformed)
	}

	trailingCount := int(body[trailingOffset])
	if trailingCount != recordCount {
		return nil, fmt.Errorf("record count mismatch: leading %d, trailing %d: %w", recordCount, trailingCount, ErrMalformed)
	}

	if trailingOffset+1 != len(body) {
		return nil, fmt.Errorf("trailing bytes after record count: %w", ErrMalformed)
	}

	_ = opts // reserved: MaxDataFieldLength already enforced by the caller

	return records, nil
}
