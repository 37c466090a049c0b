package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FieldDelimiter separates command fields on the wire (ATI layout).
const FieldDelimiter = ";"

// HandlerFunc processes one parsed command. args are the positional fields
// after the verb; absent trailing fields arrive as empty strings. A non-nil
// error becomes an ERROR|... response. An empty reply with nil error is the
// legacy silent-success response.
type HandlerFunc func(ctx context.Context, args []string) (string, error)

// Dispatcher is the single entry point for command text. It may be invoked
// concurrently from multiple transports; handlers rely on the registry and
// protection manager for locking, the dispatcher itself only guards its own
// tables.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	start     time.Time
	processed atomic.Uint64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		start:    time.Now(),
	}
}

// Register binds a verb (case-insensitive) to a handler.
func (d *Dispatcher) Register(verb string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.ToUpper(verb)] = fn
}

// Uptime reports how long the dispatcher has been serving commands.
func (d *Dispatcher) Uptime() time.Duration {
	return time.Since(d.start)
}

// Processed reports the number of dispatched commands.
func (d *Dispatcher) Processed() uint64 {
	return d.processed.Load()
}

// Dispatch parses one command line and routes it. A malformed command or a
// handler panic must never terminate the dispatch loop: every failure path
// collapses into an ERROR|... response.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (reply string) {
	d.processed.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("dispatch: handler panic recovered: %v", rec)
			reply = fmt.Sprintf("ERROR|internal error: %v", rec)
		}
	}()

	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "ERROR|Empty command"
	}

	fields := strings.Split(line, FieldDelimiter)
	verb := strings.ToUpper(strings.TrimSpace(fields[0]))

	d.mu.RLock()
	fn, ok := d.handlers[verb]
	d.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("ERROR|Unknown command: %s", verb)
	}

	resp, err := fn(ctx, fields[1:])
	if err != nil {
		return "ERROR|" + err.Error()
	}
	return resp
}
