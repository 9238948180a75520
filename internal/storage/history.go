package storage

import (
	"time"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

// KeepHistory is how many history rows survive a prune.
const KeepHistory = 1000

// AppendHistory stores one played track.
func (d *DB) AppendHistory(h state.HistoryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO music_history
			(guild_id, title, author, uri, artwork, length_ms, requester, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.GuildID.String(), h.Track.Title, h.Track.Author, h.Track.URI, h.Track.Artwork,
		h.Track.LengthMs, h.Requester, h.PlayedAt.UnixMilli(),
	)
	return err
}

// RecentHistory returns up to limit rows, newest first.
func (d *DB) RecentHistory(limit int) ([]state.HistoryEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT guild_id, title, author, uri, artwork, length_ms, requester, played_at
		FROM music_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []state.HistoryEntry{}
	for rows.Next() {
		var (
			h      state.HistoryEntry
			guild  string
			played int64
		)
		if err := rows.Scan(&guild, &h.Track.Title, &h.Track.Author, &h.Track.URI,
			&h.Track.Artwork, &h.Track.LengthMs, &h.Requester, &played); err != nil {
			return nil, err
		}
		h.GuildID = proto.Snowflake(guild)
		h.PlayedAt = time.UnixMilli(played)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (d *DB) PruneHistory() error {
	return d.prune("music_history", KeepHistory)
}
