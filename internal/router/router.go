// Package router classifies a fresh parsed message by its type
// discriminator and builds the two wire projections that get handed to
// the publisher.
package router

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/openfleet/device-gateway/internal/message"
)

// Class is the routing classification of a message's type field.
type Class int

const (
	Ignore Class = iota
	DeviceMessage
	DeviceEvent
)

var messageTypes = map[uint8]bool{2: true, 11: true, 13: true}
var eventTypes = map[uint8]bool{1: true, 3: true, 12: true, 14: true}

// Classify returns the routing class for a message type discriminator.
func Classify(msgType uint8) Class {
	switch {
	case messageTypes[msgType]:
		return DeviceMessage
	case eventTypes[msgType]:
		return DeviceEvent
	default:
		return Ignore
	}
}

// Headers are attached to every publish call regardless of class.
func Headers() map[string]string {
	return map[string]string{"source": "message-sender-service", "version": "1.0"}
}

// Envelope is the JSON shape published to the device-message topic.
type Envelope struct {
	DeviceID       string `json:"deviceId"`
	MessageCounter uint16 `json:"messageCounter"`
	MessageType    uint8  `json:"messageType"`
	Timestamp      string `json:"timestamp"`
	Payload        string `json:"payload"`
	PayloadSize    int    `json:"payloadSize"`
	CorrelationID  string `json:"correlationId"`
}

// BuildEnvelope builds the structured JSON envelope for a device-message.
func BuildEnvelope(m message.Message) Envelope {
	return Envelope{
		DeviceID:       m.DeviceID.String(),
		MessageCounter: m.Counter,
		MessageType:    m.Type,
		Timestamp:      m.ReceivedAt.UTC().Format(time.RFC3339),
		Payload:        base64.StdEncoding.EncodeToString(m.Payload),
		PayloadSize:    len(m.Payload),
		CorrelationID:  m.CorrelationID,
	}
}

// EncodeEnvelope marshals the envelope to its wire JSON form.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// RawProjection returns the device-event publish value: the base64
// encoding of the raw payload bytes, for publisher APIs that require a
// text value. Byte-valued publishers should use m.Payload directly.
func RawProjection(m message.Message) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(m.Payload)))
	base64.StdEncoding.Encode(out, m.Payload)
	return out
}
