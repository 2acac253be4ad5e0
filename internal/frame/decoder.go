package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOverflow is returned by Feed when accumulated pending bytes exceed
// the configured cap without completing a frame. The connection that
// owns the decoder must be closed; the decoder itself is no longer
// usable once this is returned.
var ErrOverflow = errors.New("frame: pending bytes exceed cap")

// compactThreshold: below this retained size, reclaiming the backing
// array is not worth the copy.
const compactThreshold = 1024

// Decoder owns a growable byte buffer and extracts complete frames from
// a stream of arbitrarily-sized chunks, resynchronizing on the two-byte
// sync word whenever it is actively seeking the next frame start. It is
// not safe for concurrent use; each connection owns exactly one.
type Decoder struct {
	buf        bytes.Buffer
	maxPending int
}

// NewDecoder returns a Decoder that terminates with ErrOverflow once
// pending (unframed) bytes exceed maxPending.
func NewDecoder(maxPending int) *Decoder {
	return &Decoder{maxPending: maxPending}
}

// Feed appends chunk to the internal buffer and invokes onFrame once per
// complete frame extracted, in arrival order. The slice passed to
// onFrame is only valid for the duration of the call: callers that need
// to retain it must copy.
func (d *Decoder) Feed(chunk []byte, onFrame func(frame []byte)) error {
	if len(chunk) > 0 {
		d.buf.Write(chunk)
	}
	for {
		data := d.buf.Bytes()
		if len(data) == 0 {
			return nil
		}
		i := bytes.Index(data, Sync[:])
		if i < 0 {
			// No full sync word present. Keep a possible partial match
			// (the last byte equals the sync word's first byte) so a
			// sync word split across two Feed calls is still found.
			if last := data[len(data)-1]; last == Sync[0] {
				d.buf.Reset()
				_ = d.buf.WriteByte(last)
			} else {
				d.buf.Reset()
			}
			return nil
		}
		if i > 0 {
			d.buf.Next(i) // discard garbage prefix; resync
			if err := d.checkOverflow(); err != nil {
				return err
			}
			continue
		}

		if len(data) < HeaderSize {
			return d.checkOverflow()
		}
		length := int(binary.BigEndian.Uint16(data[9:11]))
		total := HeaderSize + length
		if len(data) < total {
			return d.checkOverflow()
		}

		frame := make([]byte, total)
		copy(frame, data[:total])
		d.buf.Next(total)
		onFrame(frame)
		d.compact()
	}
}

func (d *Decoder) checkOverflow() error {
	if d.maxPending > 0 && d.buf.Len() > d.maxPending {
		return fmt.Errorf("%w: %d bytes pending (cap %d)", ErrOverflow, d.buf.Len(), d.maxPending)
	}
	return nil
}

// compact reclaims the buffer's backing array when at least
// compactThreshold bytes are retained and they fill less than a quarter
// of its capacity. It runs only after a frame is emitted; a buffer that
// retains fewer than compactThreshold bytes keeps its backing array.
func (d *Decoder) compact() {
	data := d.buf.Bytes()
	if len(data) < compactThreshold {
		return
	}
	if len(data)*4 >= cap(data) {
		return
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	d.buf.Reset()
	d.buf.Write(clone)
}

// Pending reports the number of bytes currently buffered and not yet
// emitted as a frame.
func (d *Decoder) Pending() int { return d.buf.Len() }
