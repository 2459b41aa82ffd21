// Package wire provides frame encoding and decoding
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrShortFrame means the buffer is too small to hold a header
	// and checksum.
	ErrShortFrame = errors.New("wire: frame too short")

	// ErrBadMarker means the synchronization marker did not match.
	ErrBadMarker = errors.New("wire: marker mismatch")

	// ErrLengthOverflow means the declared payload length exceeds the
	// buffer or the allowed maximum.
	ErrLengthOverflow = errors.New("wire: declared length exceeds buffer")

	// ErrChecksum means the recomputed CRC did not match the trailer.
	ErrChecksum = errors.New("wire: checksum mismatch")

	// ErrPayloadTooLarge means the payload cannot fit in one frame.
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)

// EncodeFrame serializes a header and payload into a complete frame:
// 8-byte big-endian header, payload bytes, then a CRC-16 over header
// and payload. The header's Length field is filled in from the payload.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	h.Length = uint16(len(payload))

	buf := make([]byte, HeaderSize+len(payload)+ChecksumSize)
	binary.BigEndian.PutUint16(buf[0:2], Marker)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Dest))
	binary.BigEndian.PutUint16(buf[4:6], h.Seq)
	binary.BigEndian.PutUint16(buf[6:8], h.Length)
	copy(buf[HeaderSize:], payload)

	crc := Checksum(buf[:HeaderSize+len(payload)])
	binary.BigEndian.PutUint16(buf[HeaderSize+len(payload):], crc)

	return buf, nil
}

// DecodeFrame parses a complete frame. It fails on marker mismatch,
// a declared length exceeding the buffer, or CRC mismatch; callers
// drop the frame on error, they do not retry at this layer.
func DecodeFrame(buf []byte) (Header, []byte, error) {
	var h Header

	if len(buf) < HeaderSize+ChecksumSize {
		return h, nil, ErrShortFrame
	}

	if binary.BigEndian.Uint16(buf[0:2]) != Marker {
		return h, nil, ErrBadMarker
	}

	h.Dest = DestID(binary.BigEndian.Uint16(buf[2:4]))
	h.Seq = binary.BigEndian.Uint16(buf[4:6])
	h.Length = binary.BigEndian.Uint16(buf[6:8])

	if int(h.Length) > MaxPayloadSize || HeaderSize+int(h.Length)+ChecksumSize > len(buf) {
		return Header{}, nil, ErrLengthOverflow
	}

	end := HeaderSize + int(h.Length)
	want := binary.BigEndian.Uint16(buf[end : end+ChecksumSize])
	if Checksum(buf[:end]) != want {
		return Header{}, nil, ErrChecksum
	}

	if h.Length == 0 {
		return h, nil, nil
	}

	payload := make([]byte, h.Length)
	copy(payload, buf[HeaderSize:end])
	return h, payload, nil
}

// DecodeHeader parses only the leading header, without checksum
// verification. Stream transports use it to learn how many payload
// bytes follow.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header

	if len(buf) < HeaderSize {
		return h, ErrShortFrame
	}

	if binary.BigEndian.Uint16(buf[0:2]) != Marker {
		return h, ErrBadMarker
	}

	h.Dest = DestID(binary.BigEndian.Uint16(buf[2:4]))
	h.Seq = binary.BigEndian.Uint16(buf[4:6])
	h.Length = binary.BigEndian.Uint16(buf[6:8])

	if int(h.Length) > MaxPayloadSize {
		return Header{}, ErrLengthOverflow
	}

	return h, nil
}
