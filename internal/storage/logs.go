package storage

import "time"

const KeepLogs = 2000

// AppendLog stores one formatted log line.
func (d *DB) AppendLog(line string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`INSERT INTO log_lines (line, logged_at) VALUES (?, ?)`, line, at.UnixMilli())
	return err
}

// RecentLogs returns up to limit lines, newest first.
func (d *DB) RecentLogs(limit int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`SELECT line FROM log_lines ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (d *DB) ClearLogs() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM log_lines`)
	return err
}

func (d *DB) PruneLogs() error {
	return d.prune("log_lines", KeepLogs)
}
