package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openfleet/device-gateway/internal/message"
)

// Parse errors. These are defensive: a correctly-behaving Decoder never
// hands Parse a frame that triggers them, since Decoder already checked
// the sync word and the declared length before slicing the frame out.
var (
	ErrTooShort       = errors.New("frame: too short")
	ErrBadSync        = errors.New("frame: bad sync word")
	ErrLengthMismatch = errors.New("frame: declared length exceeds frame")
)

// Parse turns a complete wire frame into a message.Message. It does not
// retain a reference to buf: the payload is copied so the caller's
// buffer can be reused or discarded immediately after Parse returns.
func Parse(buf []byte) (message.Message, error) {
	var m message.Message
	if len(buf) < HeaderSize {
		return m, fmt.Errorf("%w: %d bytes", ErrTooShort, len(buf))
	}
	if buf[0] != Sync[0] || buf[1] != Sync[1] {
		return m, fmt.Errorf("%w: got %02X%02X", ErrBadSync, buf[0], buf[1])
	}
	length := int(binary.BigEndian.Uint16(buf[9:11]))
	if HeaderSize+length > len(buf) {
		return m, fmt.Errorf("%w: declared %d, frame has %d", ErrLengthMismatch, length, len(buf)-HeaderSize)
	}

	copy(m.DeviceID[:], buf[2:6])
	m.Counter = binary.BigEndian.Uint16(buf[6:8])
	m.Type = buf[8]
	if length > 0 {
		m.Payload = append([]byte(nil), buf[HeaderSize:HeaderSize+length]...)
	}
	return m, nil
}

// Encode is the inverse of Parse, used by tests to exercise the
// framing roundtrip property and by anything that needs to synthesize
// wire bytes (e.g. a test client).
func Encode(m message.Message) []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	buf[0], buf[1] = Sync[0], Sync[1]
	copy(buf[2:6], m.DeviceID[:])
	binary.BigEndian.PutUint16(buf[6:8], m.Counter)
	buf[8] = m.Type
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf
}
