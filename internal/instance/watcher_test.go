package instance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_ReloadsOnExternalChanges(t *testing.T) {
	root := t.TempDir()
	s, err := Open(afero.NewOsFs(), root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("Existing", "1.20.1"); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan struct{}, 16)
	w, err := NewWatcher(s,
		WithDebounce(20*time.Millisecond),
		WithReloadCallback(func() { reloads <- struct{}{} }))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start()
	defer w.Stop()

	dir := filepath.Join(root, "External")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	desc := []byte(`{"name":"External","version":"1.19.4"}`)
	if err := os.WriteFile(filepath.Join(dir, DescriptorFileName), desc, 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, ok := s.Get("External")
		return ok
	})

	if err := os.RemoveAll(filepath.Join(root, "Existing")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, ok := s.Get("Existing")
		return !ok
	})

	select {
	case <-reloads:
	default:
		t.Error("reload callback was never invoked")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	s, err := Open(afero.NewOsFs(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatal(err)
	}

	// Stop before Start must not block.
	w.Stop()
	w.Stop()
}
