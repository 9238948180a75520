package routes

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/petervdpas/botdash/internal/feed"
)

const keepAlive = 15 * time.Second

func registerStateRoutes(mux *http.ServeMux, d Deps) {

	// GET /api/state: consistent snapshot of everything
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Store.Snapshot())
	})

	// GET /api/feeds/{chat|history|logs|network}[?limit=N]: newest first
	mux.HandleFunc("/api/feeds/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		limit := -1
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		switch strings.TrimPrefix(r.URL.Path, "/api/feeds/") {
		case "chat":
			writeJSON(w, head(d.Store.Chat(), limit))
		case "history":
			writeJSON(w, head(d.Store.History(), limit))
		case "logs":
			writeJSON(w, head(d.Store.Logs(), limit))
		case "network":
			writeJSON(w, head(d.Store.NetworkHistory(), limit))
		default:
			http.NotFound(w, r)
		}
	})

	// GET /api/events (SSE): one "state" event, then a "change" per mutation
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		changes, cancel := d.Store.Subscribe()
		defer cancel()

		if err := writeEvent(w, "state", d.Store.Snapshot()); err != nil {
			return
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if err := writeEvent(w, "change", c); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	// POST /api/logs/clear: empties the dashboard log feed
	mux.HandleFunc("/api/logs/clear", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		d.Store.ClearLogs()
		writeJSON(w, map[string]string{"status": "cleared"})
	})

	// POST /api/refresh: {"resource": "music"}
	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		if d.Refresh == nil {
			http.Error(w, "refresh unavailable", http.StatusServiceUnavailable)
			return
		}
		var req struct {
			Resource string `json:"resource"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if req.Resource == "" {
			http.Error(w, "missing resource", http.StatusBadRequest)
			return
		}
		d.Refresh(req.Resource)
		writeJSON(w, map[string]string{"status": "queued"})
	})
}

func head[T any](entries []feed.Entry[T], limit int) []feed.Entry[T] {
	if entries == nil {
		entries = []feed.Entry[T]{}
	}
	if limit >= 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
