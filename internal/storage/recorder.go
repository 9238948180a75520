package storage

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/feed"
	"github.com/petervdpas/botdash/internal/state"
)

var log = logging.Logger("storage")

// Seed fills the store's history and log feeds from the archive.
func (d *DB) Seed(store *state.Store) error {
	hist, err := d.RecentHistory(feed.HistoryCapacity)
	if err != nil {
		return err
	}
	lines, err := d.RecentLogs(feed.LogCapacity)
	if err != nil {
		return err
	}
	if len(hist) > 0 {
		store.SeedHistory(hist)
	}
	if len(lines) > 0 {
		store.SeedLogs(lines)
	}
	log.Debugf("seeded %d history rows and %d log lines", len(hist), len(lines))
	return nil
}

// Recorder appends every new history entry and log line to the archive.
type Recorder struct {
	db    *DB
	store *state.Store

	lastHist uint64
	lastLog  uint64
	logLen   int
}

func NewRecorder(db *DB, store *state.Store) *Recorder {
	r := &Recorder{db: db, store: store}
	// Whatever is already in the feeds is either seeded from here or older
	// than the archive.
	if h, ok := headSeq(store.History()); ok {
		r.lastHist = h
	}
	logs := store.Logs()
	if h, ok := headSeq(logs); ok {
		r.lastLog = h
	}
	r.logLen = len(logs)
	return r
}

// Run records until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	changes, cancel := r.store.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			switch c.Kind {
			case state.ChangeHistory:
				r.flushHistory()
			case state.ChangeLogs:
				r.flushLogs()
			}
		}
	}
}

func (r *Recorder) flushHistory() {
	entries := r.store.History()
	for _, e := range newer(entries, r.lastHist) {
		if err := r.db.AppendHistory(e.Value); err != nil {
			log.Warnf("archive history: %v", err)
			return
		}
		r.lastHist = e.Seq
	}
	if err := r.db.PruneHistory(); err != nil {
		log.Debugf("prune history: %v", err)
	}
}

func (r *Recorder) flushLogs() {
	entries := r.store.Logs()
	if len(entries) == 0 && r.logLen > 0 {
		if err := r.db.ClearLogs(); err != nil {
			log.Warnf("clear archived logs: %v", err)
		}
	}
	r.logLen = len(entries)
	for _, e := range newer(entries, r.lastLog) {
		if err := r.db.AppendLog(e.Value, e.At); err != nil {
			log.Warnf("archive log line: %v", err)
			return
		}
		r.lastLog = e.Seq
	}
	if err := r.db.PruneLogs(); err != nil {
		log.Debugf("prune logs: %v", err)
	}
}

func headSeq[T any](entries []feed.Entry[T]) (uint64, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	return entries[0].Seq, true
}

// newer returns the entries after seq, oldest first. entries is newest
// first.
func newer[T any](entries []feed.Entry[T], seq uint64) []feed.Entry[T] {
	var out []feed.Entry[T]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Seq > seq {
			out = append(out, entries[i])
		}
	}
	return out
}
