package avl

import (
	"fmt"

	"github.com/telematics/avl-gateway/internal/wire"
)

// decodeRecords parses n records from data (the AVL frame body after the
// codec id and record count), returning the number of bytes consumed.
// codec8Extended selects the 16-bit id/count width of Codec 8 Extended
// (0x8E); otherwise widths are 8-bit (Codec 8, 0x08).
//
// Grounded on internal/parser/location.go's offset-tracking style
// (explicit `offset` variable advanced after each field), applied here
// to a self-describing IO map instead of a fixed record layout.
func decodeRecords(data []byte, n int, codec8Extended bool) ([]Record, int, error) {
	records := make([]Record, 0, n)
	offset := 0

	for i := 0; i < n; i++ {
		rec, consumed, err := decodeOneRecord(data[offset:], codec8Extended)
		if err != nil {
			return nil, offset, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
		offset += consumed
	}

	return records, offset, nil
}

func decodeOneRecord(data []byte, codec8Extended bool) (Record, int, error) {
	const fixedHeaderLen = 8 + 1 + 4 + 4 + 2 + 2 + 1 + 2 // ts+priority+lon+lat+alt+head+sat+speed
	if len(data) < fixedHeaderLen {
		return Record{}, 0, newFrameError(0, "record shorter than fixed GPS header", nil)
	}

	offset := 0
	r := Record{}

	r.TimestampMs = int64(beU64(data[offset : offset+8]))
	offset += 8

	r.Priority = data[offset]
	offset++

	r.GPS.LongitudeE7 = wire.SignMagnitudeToE7(beU32(data[offset : offset+4]))
	offset += 4
	r.GPS.LatitudeE7 = wire.SignMagnitudeToE7(beU32(data[offset : offset+4]))
	offset += 4
	r.GPS.AltitudeM = int16(beU16(data[offset : offset+2]))
	offset += 2
	r.GPS.HeadingDeg = beU16(data[offset : offset+2])
	offset += 2
	r.GPS.Satellites = data[offset]
	offset++
	r.GPS.SpeedKmh = beU16(data[offset : offset+2])
	offset += 2

	idWidth, countWidth := 1, 1
	if codec8Extended {
		idWidth, countWidth = 2, 2
	}

	readID := func(b []byte) uint16 {
		if idWidth == 1 {
			return uint16(b[0])
		}
		return beU16(b)
	}
	readCount := func(b []byte) int {
		if countWidth == 1 {
			return int(b[0])
		}
		return int(beU16(b))
	}

	if len(data) < offset+countWidth {
		return Record{}, 0, newFrameError(offset, "truncated before eventIoId", nil)
	}
	r.EventIoID = readID(data[offset : offset+idWidth])
	offset += idWidth

	if len(data) < offset+countWidth {
		return Record{}, 0, newFrameError(offset, "truncated before total IO count", nil)
	}
	// totalCount is read but not otherwise validated beyond consuming its
	// field width; the per-group counts below are authoritative for how
	// many elements actually follow.
	_ = readCount(data[offset : offset+countWidth])
	offset += countWidth

	r.IO = newIOGroups()

	var err error
	offset, err = decodeGroup1Byte(data, offset, idWidth, countWidth, readID, readCount, &r.IO)
	if err != nil {
		return Record{}, 0, err
	}
	offset, err = decodeGroup2Byte(data, offset, idWidth, countWidth, readID, readCount, &r.IO)
	if err != nil {
		return Record{}, 0, err
	}
	offset, err = decodeGroup4Byte(data, offset, idWidth, countWidth, readID, readCount, &r.IO)
	if err != nil {
		return Record{}, 0, err
	}
	offset, err = decodeGroup8Byte(data, offset, idWidth, countWidth, readID, readCount, &r.IO)
	if err != nil {
		return Record{}, 0, err
	}

	project(&r)

	return r, offset, nil
}

func decodeGroup1Byte(data []byte, offset, idWidth, countWidth int, readID func([]byte) uint16, readCount func([]byte) int, io *IOGroups) (int, error) {
	if len(data) < offset+countWidth {
		return 0, newFrameError(offset, "truncated before 1-byte group count", nil)
	}
	count := readCount(data[offset : offset+countWidth])
	offset += countWidth
	for i := 0; i < count; i++ {
		if len(data) < offset+idWidth+1 {
			return 0, newFrameError(offset, "truncated 1-byte group entry", nil)
		}
		id := readID(data[offset : offset+idWidth])
		offset += idWidth
		io.OneByte[id] = data[offset]
		offset++
	}
	return offset, nil
}

func decodeGroup2Byte(data []byte, offset, idWidth, countWidth int, readID func([]byte) uint16, readCount func([]byte) int, io *IOGroups) (int, error) {
	if len(data) < offset+countWidth {
		return 0, newFrameError(offset, "truncated before 2-byte group count", nil)
	}
	count := readCount(data[offset : offset+countWidth])
	offset += countWidth
	for i := 0; i < count; i++ {
		if len(data) < offset+idWidth+2 {
			return 0, newFrameError(offset, "truncated 2-byte group entry", nil)
		}
		id := readID(data[offset : offset+idWidth])
		offset += idWidth
		io.TwoByte[id] = beU16(data[offset : offset+2])
		offset += 2
	}
	return offset, nil
}

func decodeGroup4Byte(data []byte, offset, idWidth, countWidth int, readID func([]byte) uint16, readCount func([]byte) int, io *IOGroups) (int, error) {
	if len(data) < offset+countWidth {
		return 0, newFrameError(offset, "truncated before 4-byte group count", nil)
	}
	count := readCount(data[offset : offset+countWidth])
	offset += countWidth
	for i := 0; i < count; i++ {
		if len(data) < offset+idWidth+4 {
			return 0, newFrameError(offset, "truncated 4-byte group entry", nil)
		}
		id := readID(data[offset : offset+idWidth])
		offset += idWidth
		io.FourByte[id] = beU32(data[offset : offset+4])
		offset += 4
	}
	return offset, nil
}

func decodeGroup8Byte(data []byte, offset, idWidth, countWidth int, readID func([]byte) uint16, readCount func([]byte) int, io *IOGroups) (int, error) {
	if len(data) < offset+countWidth {
		return 0, newFrameError(offset, "truncated before 8-byte group count", nil)
	}
	count := readCount(data[offset : offset+countWidth])
	offset += countWidth
	for i := 0; i < count; i++ {
		if len(data) < offset+idWidth+8 {
			return 0, newFrameError(offset, "truncated 8-byte group entry", nil)
		}
		id := readID(data[offset : offset+idWidth])
		offset += idWidth
		io.EightByte[id] = beU64(data[offset : offset+8])
		offset += 8
	}
	return offset, nil
}

func beU16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func beU64(b []byte) uint64 {
	var v uint64
	for _, c := range b[:8] {
		v = v<<8 | uint64(c)
	}
	return v
}
