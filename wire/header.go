// Package wire defines the binary frame format exchanged between endpoints
package wire

import (
	"fmt"
)

// DestID identifies which registered endpoint a frame's payload is
// delivered to.
type DestID uint16

const (
	// Marker is the fixed synchronization constant at the start of
	// every header. A receiver that observes anything else must
	// resynchronize on the byte stream.
	Marker uint16 = 0xAA55

	// AckDestID is reserved for acknowledgment frames. ACK frames
	// carry no payload, echo the sequence number being confirmed, and
	// are never themselves acknowledged or retried.
	AckDestID DestID = 0xFFFF

	// HeaderSize is the fixed size of the frame header in bytes:
	// marker(2) + destination(2) + sequence(2) + length(2).
	HeaderSize = 8

	// ChecksumSize is the size of the trailing CRC-16 in bytes.
	ChecksumSize = 2

	// MaxPayloadSize is the maximum payload a single frame may carry.
	MaxPayloadSize = 4096

	// MaxFrameSize is the largest possible encoded frame.
	MaxFrameSize = HeaderSize + MaxPayloadSize + ChecksumSize
)

// Header is the fixed framing structure identifying one message. All
// fields are transmitted big-endian so heterogeneous endpoints
// interoperate.
type Header struct {
	// Dest is the destination endpoint identifier
	Dest DestID

	// Seq is the per-engine sequence number of this frame
	Seq uint16

	// Length is the payload length in bytes
	Length uint16
}

// NewAckHeader builds the header of an acknowledgment for seq.
func NewAckHeader(seq uint16) Header {
	return Header{Dest: AckDestID, Seq: seq}
}

// IsAck reports whether the header tags an acknowledgment frame.
func (h Header) IsAck() bool {
	return h.Dest == AckDestID
}

// String returns a human-readable form for logging.
func (h Header) String() string {
	if h.IsAck() {
		return fmt.Sprintf("ack(seq=%d)", h.Seq)
	}
	return fmt.Sprintf("frame(dest=%d seq=%d len=%d)", h.Dest, h.Seq, h.Length)
}
