package router

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/openfleet/device-gateway/internal/message"
)

func TestClassifyTotality(t *testing.T) {
	for t8 := 0; t8 < 256; t8++ {
		switch Classify(uint8(t8)) {
		case Ignore, DeviceMessage, DeviceEvent:
		default:
			t.Fatalf("type %d classified outside the known set", t8)
		}
	}
}

func TestClassifyKnownTypes(t *testing.T) {
	cases := map[uint8]Class{
		2: DeviceMessage, 11: DeviceMessage, 13: DeviceMessage,
		1: DeviceEvent, 3: DeviceEvent, 12: DeviceEvent, 14: DeviceEvent,
		0: Ignore, 255: Ignore,
	}
	for typ, want := range cases {
		if got := Classify(typ); got != want {
			t.Errorf("Classify(%d) = %v, want %v", typ, got, want)
		}
	}
}

func TestBuildEnvelopeRoundTrip(t *testing.T) {
	m := message.Message{
		DeviceID:      [4]byte{0x01, 0x02, 0x03, 0x04},
		Counter:       99,
		Type:          2,
		Payload:       []byte("hello"),
		ReceivedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CorrelationID: "cid-1",
	}
	env := BuildEnvelope(m)
	data, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeEnvelope error: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.DeviceID != m.DeviceID.String() || decoded.MessageCounter != m.Counter {
		t.Fatalf("mismatch: %+v", decoded)
	}
	payload, err := base64.StdEncoding.DecodeString(decoded.Payload)
	if err != nil || string(payload) != "hello" {
		t.Fatalf("payload roundtrip failed: %v %q", err, payload)
	}
	if decoded.PayloadSize != len(m.Payload) {
		t.Fatalf("PayloadSize = %d, want %d", decoded.PayloadSize, len(m.Payload))
	}
}

func TestRawProjectionIsBase64OfPayload(t *testing.T) {
	m := message.Message{Payload: []byte("raw-event")}
	out := RawProjection(m)
	decoded, err := base64.StdEncoding.DecodeString(string(out))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(decoded) != "raw-event" {
		t.Fatalf("got %q, want raw-event", decoded)
	}
}

func TestHeadersStable(t *testing.T) {
	h := Headers()
	if h["source"] != "message-sender-service" {
		t.Fatalf("unexpected source header: %v", h)
	}
}
