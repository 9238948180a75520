// internal/viewer/logbuf.go
package viewer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/petervdpas/botdash/internal/util"
)

// LogEntry is one daemon log line. Level and System are filled in when the
// line comes from the go-log plaintext pipe.
type LogEntry struct {
	TS     time.Time `json:"ts"`
	Level  string    `json:"level,omitempty"`
	System string    `json:"system,omitempty"`
	Msg    string    `json:"msg"`
}

// LogBuffer keeps the most recent daemon log lines and fans new ones out to
// listeners. It is an io.Writer so a log pipe can be copied into it.
type LogBuffer struct {
	now func() time.Time

	mu        sync.Mutex
	ring      *util.RingBuffer[LogEntry]
	pending   []byte
	listeners map[chan LogEntry]struct{}
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		now:       time.Now,
		ring:      util.NewRingBuffer[LogEntry](max),
		listeners: map[chan LogEntry]struct{}{},
	}
}

// Write records every complete line in p. An unterminated tail is held
// until the next call.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, p...)
	for {
		line, rest, ok := bytes.Cut(b.pending, []byte{'\n'})
		if !ok {
			break
		}
		b.pending = rest
		text := strings.TrimRight(string(line), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		e := parseLine(text)
		e.TS = b.now()
		b.ring.Push(e)
		for ch := range b.listeners {
			select {
			case ch <- e:
			default:
			}
		}
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return len(p), nil
}

// parseLine understands zap's console layout:
// time \t LEVEL \t system \t caller \t message.
func parseLine(line string) LogEntry {
	parts := strings.SplitN(line, "\t", 5)
	switch len(parts) {
	case 5:
		return LogEntry{Level: strings.ToLower(parts[1]), System: parts[2], Msg: parts[4]}
	case 4:
		return LogEntry{Level: strings.ToLower(parts[1]), System: parts[2], Msg: parts[3]}
	}
	return LogEntry{Msg: line}
}

// Snapshot returns the buffered lines, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	return b.ring.Snapshot()
}

// Subscribe delivers lines written from now on. Slow listeners miss lines.
func (b *LogBuffer) Subscribe() (<-chan LogEntry, func()) {
	ch := make(chan LogEntry, 64)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func levelMatch(level string) func(LogEntry) bool {
	return func(e LogEntry) bool { return level == "" || e.Level == level }
}

// GET /api/daemon-logs[?level=warn]
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	keep := levelMatch(r.URL.Query().Get("level"))
	entries := lo.Filter(b.Snapshot(), func(e LogEntry, _ int) bool { return keep(e) })
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(entries)
}

// GET /api/daemon-logs/stream[?level=warn]  (SSE, new lines only)
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	keep := levelMatch(r.URL.Query().Get("level"))

	ch, cancel := b.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !keep(e) {
				continue
			}
			data, _ := json.Marshal(e)
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
