// Package message defines the parsed device-message shape that flows
// through the gateway once a frame has been decoded and validated.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceID is the 4-byte opaque identity key carried by every frame.
type DeviceID [4]byte

// String formats the id as uppercase hex pairs separated by hyphens,
// e.g. "01-02-03-04". This is the canonical form used as publisher key
// and in log fields.
func (d DeviceID) String() string {
	return fmt.Sprintf("%02X-%02X-%02X-%02X", d[0], d[1], d[2], d[3])
}

// Message is a single parsed device frame, ready for dedup and routing.
type Message struct {
	DeviceID      DeviceID
	Counter       uint16
	Type          uint8
	Payload       []byte
	ReceivedAt    time.Time
	CorrelationID string
}

// NewCorrelationID returns an opaque per-message identifier. It is
// published in the device-message envelope's correlationId field;
// publisher headers and device-event values do not carry it.
func NewCorrelationID() string {
	return uuid.NewString()
}
