package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nt-bridge/internal/dispatch"
)

func newEchoDispatcher() *dispatch.Dispatcher {
	d := dispatch.NewDispatcher()
	d.Register("PING", func(context.Context, []string) (string, error) {
		return "PONG", nil
	})
	return d
}

func waitForFile(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("response file %s never appeared", path)
	return ""
}

func TestFileWatcherRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "incoming")
	outbox := filepath.Join(dir, "outgoing")

	w := &FileWatcher{
		Dispatcher: newEchoDispatcher(),
		InboxDir:   inbox,
		OutboxDir:  outbox,
		Interval:   5 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(inbox, "oif42.txt"), []byte("PING\n"), 0o644); err != nil {
		t.Fatalf("write command: %v", err)
	}

	got := waitForFile(t, filepath.Join(outbox, "oif42.txt"))
	if got != "PONG" {
		t.Fatalf("response %q, expected PONG", got)
	}

	// The command file is consumed.
	if _, err := os.Stat(filepath.Join(inbox, "oif42.txt")); !os.IsNotExist(err) {
		t.Fatalf("command file was not removed")
	}
}

func TestFileWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "incoming")
	outbox := filepath.Join(dir, "outgoing")

	w := &FileWatcher{
		Dispatcher: newEchoDispatcher(),
		InboxDir:   inbox,
		OutboxDir:  outbox,
		Interval:   5 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("PING"), 0o644)
	os.WriteFile(filepath.Join(inbox, "oif1.tmp"), []byte("PING"), 0o644)

	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(inbox, "notes.txt")); err != nil {
		t.Fatalf("non-command file was consumed")
	}
	entries, _ := os.ReadDir(outbox)
	if len(entries) != 0 {
		t.Fatalf("responses written for non-command files: %v", entries)
	}
}

func TestFileWatcherReportsErrors(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "incoming")
	outbox := filepath.Join(dir, "outgoing")

	w := &FileWatcher{
		Dispatcher: newEchoDispatcher(),
		InboxDir:   inbox,
		OutboxDir:  outbox,
		Interval:   5 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	os.WriteFile(filepath.Join(inbox, "oif7.txt"), []byte("WARP;ES"), 0o644)

	got := waitForFile(t, filepath.Join(outbox, "oif7.txt"))
	if got != "ERROR|Unknown command: WARP" {
		t.Fatalf("response %q", got)
	}
}
