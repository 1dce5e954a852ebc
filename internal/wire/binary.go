// Package wire provides the big-endian primitives shared by the framing,
// handshake, and AVL codecs: big-endian reads (callers check bounds
// first), CRC-16/IBM, and the bit-level helpers the record decoder needs
// for sign-magnitude coordinates.
package wire

import "encoding/binary"

// ReadUint16BE reads a big-endian uint16 starting at offset. The caller
// must have already verified len(data) >= offset+2.
func ReadUint16BE(data []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(data[offset : offset+2])
}

// ReadUint32BE reads a big-endian uint32 starting at offset.
func ReadUint32BE(data []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(data[offset : offset+4])
}

// ReadUint64BE reads a big-endian uint64 starting at offset.
func ReadUint64BE(data []byte, offset int) uint64 {
	return binary.BigEndian.Uint64(data[offset : offset+8])
}

// ReadInt64BE reads a big-endian signed int64 starting at offset.
func ReadInt64BE(data []byte, offset int) int64 {
	return int64(ReadUint64BE(data, offset))
}

// ReadInt32BE reads a big-endian signed int32 starting at offset.
func ReadInt32BE(data []byte, offset int) int32 {
	return int32(ReadUint32BE(data, offset))
}

// ReadInt16BE reads a big-endian signed int16 starting at offset.
func ReadInt16BE(data []byte, offset int) int16 {
	return int16(ReadUint16BE(data, offset))
}

// PutUint16BE appends a big-endian uint16 to dst.
func PutUint16BE(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

// PutUint32BE appends a big-endian uint32 to dst.
func PutUint32BE(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// SignMagnitudeToE7 converts a Teltonika sign-magnitude coordinate (top bit
// = sign, remaining 31 bits = magnitude already scaled by 1e7) into a
// signed integer of the same scale.
func SignMagnitudeToE7(raw uint32) int32 {
	magnitude := int32(raw &^ 0x80000000)
	if raw&0x80000000 != 0 {
		return -magnitude
	}
	return magnitude
}

// SignMagnitudeToDegrees converts a sign-magnitude E7 coordinate straight
// to decimal degrees.
func SignMagnitudeToDegrees(raw uint32) float64 {
	return float64(SignMagnitudeToE7(raw)) / 1e7
}
