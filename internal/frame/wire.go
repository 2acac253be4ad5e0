// Package frame implements the self-synchronizing length-prefixed wire
// protocol spoken by devices: a growable-buffer decoder that resyncs on
// garbage, and a pure parser that turns a complete frame into a
// message.Message.
package frame

// Sync is the two-byte constant marking the start of a frame.
var Sync = [2]byte{0xAA, 0x55}

const (
	// HeaderSize is the number of bytes before the payload: sync(2) +
	// device id(4) + counter(2) + type(1) + length(2).
	HeaderSize = 11
	// MaxPayload is the largest payload a length field can declare.
	MaxPayload = 65535
	// MaxFrameSize is the largest possible complete frame.
	MaxFrameSize = HeaderSize + MaxPayload
)
