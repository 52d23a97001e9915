package dispatch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Iron-Ham/cubic/internal/logging"
)

func TestFront_RunsInOrder(t *testing.T) {
	f := NewFront(nil)

	var got []int
	for i := 0; i < 100; i++ {
		n := i
		if !f.Post(func() { got = append(got, n) }) {
			t.Fatal("Post() = false on open front")
		}
	}
	f.Close()

	if len(got) != 100 {
		t.Fatalf("ran %d callbacks, want 100", len(got))
	}
	for i, n := range got {
		if n != i {
			t.Fatalf("callback %d ran at position %d", n, i)
		}
	}
}

func TestFront_CloseRejectsPosts(t *testing.T) {
	f := NewFront(nil)
	f.Close()
	f.Close()

	if f.Post(func() {}) {
		t.Error("Post() after Close should return false")
	}
	if f.Post(nil) {
		t.Error("Post(nil) should return false")
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done() should be closed after Close")
	}
}

func TestFront_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	f := NewFront(logging.NewLoggerWithWriter(&buf, logging.LevelDebug))

	ran := false
	f.Post(func() { panic("callback exploded") })
	f.Post(func() { ran = true })
	f.Close()

	if !ran {
		t.Error("callbacks after a panic should still run")
	}
	if !strings.Contains(buf.String(), "callback exploded") {
		t.Errorf("panic not logged: %q", buf.String())
	}
}
