package frame

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/openfleet/device-gateway/internal/message"
)

func TestDecoderSingleFrame(t *testing.T) {
	in := mkMessage([4]byte{1, 2, 3, 4}, 5, 2, []byte("abc"))
	wire := Encode(in)

	dec := NewDecoder(0)
	var got []message.Message
	if err := dec.Feed(wire, func(raw []byte) {
		m, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse error: %v", err)
		}
		got = append(got, m)
	}); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Counter != 5 || !bytes.Equal(got[0].Payload, []byte("abc")) {
		t.Fatalf("unexpected frame: %+v", got[0])
	}
}

func TestDecoderResyncsPastGarbagePrefix(t *testing.T) {
	in := mkMessage([4]byte{9, 9, 9, 9}, 1, 1, []byte("ok"))
	wire := append([]byte{0x11, 0x22, 0x33, 0xAA}, Encode(in)...)

	dec := NewDecoder(0)
	var count int
	if err := dec.Feed(wire, func([]byte) { count++ }); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d frames, want 1", count)
	}
}

func TestDecoderHandlesSyncWordSplitAcrossFeeds(t *testing.T) {
	in := mkMessage([4]byte{1, 1, 1, 1}, 2, 1, []byte("z"))
	wire := Encode(in)

	dec := NewDecoder(0)
	var count int
	onFrame := func([]byte) { count++ }
	if err := dec.Feed(wire[:1], onFrame); err != nil {
		t.Fatalf("Feed 1 error: %v", err)
	}
	if err := dec.Feed(wire[1:], onFrame); err != nil {
		t.Fatalf("Feed 2 error: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d frames, want 1", count)
	}
}

func TestDecoderByteAtATimeEquivalentToWhole(t *testing.T) {
	msgs := []message.Message{
		mkMessage([4]byte{1, 2, 3, 4}, 1, 1, []byte("a")),
		mkMessage([4]byte{5, 6, 7, 8}, 2, 2, []byte("bb")),
		mkMessage([4]byte{9, 10, 11, 12}, 3, 11, nil),
	}
	var wire []byte
	for _, m := range msgs {
		wire = append(wire, Encode(m)...)
	}

	dec := NewDecoder(0)
	var got []message.Message
	onFrame := func(raw []byte) {
		m, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse error: %v", err)
		}
		got = append(got, m)
	}
	for i := 0; i < len(wire); i++ {
		if err := dec.Feed(wire[i:i+1], onFrame); err != nil {
			t.Fatalf("Feed error at byte %d: %v", i, err)
		}
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d frames, want %d", len(got), len(msgs))
	}
	for i := range msgs {
		if got[i].Counter != msgs[i].Counter || got[i].DeviceID != msgs[i].DeviceID {
			t.Fatalf("frame %d mismatch: got %+v, want %+v", i, got[i], msgs[i])
		}
	}
}

func TestDecoderRandomChunkingEquivalentToWhole(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	msgs := make([]message.Message, 20)
	var wire []byte
	for i := range msgs {
		payload := make([]byte, r.Intn(20))
		r.Read(payload)
		msgs[i] = mkMessage([4]byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}, uint16(i), uint8(1+i%3), payload)
		wire = append(wire, Encode(msgs[i])...)
	}

	dec := NewDecoder(0)
	var got []message.Message
	onFrame := func(raw []byte) {
		m, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse error: %v", err)
		}
		got = append(got, m)
	}
	pos := 0
	for pos < len(wire) {
		n := 1 + r.Intn(7)
		if pos+n > len(wire) {
			n = len(wire) - pos
		}
		if err := dec.Feed(wire[pos:pos+n], onFrame); err != nil {
			t.Fatalf("Feed error: %v", err)
		}
		pos += n
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d frames, want %d", len(got), len(msgs))
	}
}

func TestDecoderOverflow(t *testing.T) {
	dec := NewDecoder(4)
	err := dec.Feed([]byte{0xAA, 0x55, 0, 0, 0}, func([]byte) {})
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("want ErrOverflow, got %v", err)
	}
}

func TestDecoderPendingTracksUnframedBytes(t *testing.T) {
	dec := NewDecoder(0)
	_ = dec.Feed([]byte{0xAA, 0x55, 0, 0, 0}, func([]byte) {})
	if dec.Pending() == 0 {
		t.Fatal("expected pending bytes for incomplete header")
	}
}
