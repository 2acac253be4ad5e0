package publisher

import (
	"context"
	"errors"
	"testing"
)

func TestLogPublishRecordsHistory(t *testing.T) {
	l := NewLog(0)
	if err := l.Publish(context.Background(), "device-message", "AA-BB-CC-DD", []byte("x"), Headers{"source": "x"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	recs := l.Records()
	if len(recs) != 1 || recs[0].Topic != "device-message" || recs[0].Key != "AA-BB-CC-DD" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestLogPublishTrimsToMaxKept(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 10; i++ {
		if err := l.Publish(context.Background(), "t", "k", []byte{byte(i)}, nil); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	recs := l.Records()
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[len(recs)-1].Value[0] != 9 {
		t.Fatalf("expected most recent record retained, got %+v", recs)
	}
}

func TestLogPublishAfterCloseFails(t *testing.T) {
	l := NewLog(0)
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	err := l.Publish(context.Background(), "t", "k", nil, nil)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("got %v, want ErrFatal", err)
	}
}

func TestLogFlushIsNoop(t *testing.T) {
	l := NewLog(0)
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
}
