package event

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKind_Valid(t *testing.T) {
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	for _, k := range []Kind{"", "*", "game.paused", "Download.Started"} {
		if k.Valid() {
			t.Errorf("%q should be invalid", k)
		}
	}
}

func TestEvent_PayloadIsCopied(t *testing.T) {
	payload := map[string]any{KeyInstance: "Demo"}
	e := New(InstanceDeleted, payload)

	payload[KeyInstance] = "Mutated"
	if e.Instance() != "Demo" {
		t.Error("mutating the source map must not change the event")
	}

	read := e.Payload()
	read[KeyInstance] = "Mutated"
	if e.Instance() != "Demo" {
		t.Error("mutating the returned payload must not change the event")
	}
}

func TestEvent_Constructors(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		kind  Kind
		want  map[string]any
	}{
		{
			name:  "download progress",
			event: NewDownloadProgress("Demo", "bytes", 5, 10, "client.jar"),
			kind:  DownloadProgress,
			want: map[string]any{
				KeyInstance: "Demo", KeyType: "bytes",
				KeyCurrent: int64(5), KeyTotal: int64(10), KeyFileName: "client.jar",
			},
		},
		{
			name:  "download failed",
			event: NewDownloadFailed("Demo", "404"),
			kind:  DownloadFailed,
			want:  map[string]any{KeyInstance: "Demo", KeyMessage: "404"},
		},
		{
			name:  "version missing",
			event: NewInstanceVersionMissing("Demo", "1.20.1"),
			kind:  InstanceVersionMissing,
			want:  map[string]any{KeyInstance: "Demo", KeyVersion: "1.20.1"},
		},
		{
			name:  "game stopped",
			event: NewGameStopped("Demo", "1.20.1", 0),
			kind:  GameStopped,
			want:  map[string]any{KeyInstance: "Demo", KeyVersion: "1.20.1", KeyExitCode: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.event.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", tt.event.Kind(), tt.kind)
			}
			if diff := cmp.Diff(tt.want, tt.event.Payload()); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
			if tt.event.Timestamp().IsZero() {
				t.Error("Timestamp() should be set")
			}
		})
	}
}

func TestEvent_Accessors(t *testing.T) {
	e := New(GameStarted, map[string]any{KeyPID: int64(7), KeyVersion: 3})

	if got := e.Int64(KeyPID); got != 7 {
		t.Errorf("Int64(pid) = %d, want 7", got)
	}
	if got := e.String(KeyVersion); got != "" {
		t.Errorf("String on non-string = %q, want empty", got)
	}
	if _, ok := e.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
	if len(Event{}.Payload()) != 0 {
		t.Error("zero Event should have an empty payload")
	}
}
