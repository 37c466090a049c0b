// Package transport delivers raw command lines to the dispatcher. The file
// transport mirrors the terminal's OIF convention: clients drop
// incoming/oif<id>.txt and poll outgoing/oif<id>.txt for the response.
package transport

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nt-bridge/internal/dispatch"
)

// FileWatcher polls an inbox directory for oif*.txt command files, dispatches
// their first line, and writes the response to a same-named file in the
// outbox.
type FileWatcher struct {
	Dispatcher *dispatch.Dispatcher
	InboxDir   string
	OutboxDir  string
	Interval   time.Duration
}

// Start creates the directories and begins polling until ctx is cancelled.
func (w *FileWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.InboxDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(w.OutboxDir, 0o755); err != nil {
		return err
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 25 * time.Millisecond
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.scan(ctx)
			}
		}
	}()
	return nil
}

func (w *FileWatcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.InboxDir)
	if err != nil {
		log.Printf("transport: inbox read: %v", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "oif") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		w.process(ctx, name)
	}
}

func (w *FileWatcher) process(ctx context.Context, name string) {
	path := filepath.Join(w.InboxDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		// The client may still be writing; the next poll retries.
		return
	}
	if err := os.Remove(path); err != nil {
		log.Printf("transport: remove %s: %v", name, err)
	}

	line, _, _ := strings.Cut(string(data), "\n")
	reply := w.Dispatcher.Dispatch(ctx, line)

	out := filepath.Join(w.OutboxDir, name)
	if err := os.WriteFile(out, []byte(reply), 0o644); err != nil {
		log.Printf("transport: write response %s: %v", name, err)
	}
}
