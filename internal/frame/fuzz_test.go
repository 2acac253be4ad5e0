package frame

import (
	"errors"
	"testing"
)

// FuzzDecoderFeed exercises Feed with arbitrary byte streams to ensure it
// never panics and only ever reports ErrOverflow, mirroring the
// teacher's FuzzCodecDecode.
func FuzzDecoderFeed(f *testing.F) {
	seed := [][]byte{
		{0xAA, 0x55, 1, 2, 3, 4, 0, 1, 1, 0, 0},
		{0x00, 0xAA, 0x55, 1, 2, 3, 4, 0, 1, 1, 0, 1, 9},
		{0xAA},
		{},
	}
	for _, s := range seed {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		dec := NewDecoder(4096)
		err := dec.Feed(data, func(raw []byte) {
			if _, perr := Parse(raw); perr != nil {
				t.Fatalf("decoder emitted an unparseable frame: %v", perr)
			}
		})
		if err != nil && !errors.Is(err, ErrOverflow) {
			t.Fatalf("unexpected Feed error: %v", err)
		}
	})
}
