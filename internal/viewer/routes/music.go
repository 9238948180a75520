package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/petervdpas/botdash/internal/api"
	"github.com/petervdpas/botdash/internal/localaudio"
	"github.com/petervdpas/botdash/internal/playback"
	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

func registerMusicRoutes(mux *http.ServeMux, d Deps) {
	if d.Music == nil {
		return
	}

	// POST /api/music/control: {"action": "pause|resume|skip|stop"}
	mux.HandleFunc("/api/music/control", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		var req struct {
			Action string `json:"action"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if !proto.ValidAction(req.Action) {
			http.Error(w, "unknown action: "+req.Action, http.StatusBadRequest)
			return
		}
		if err := d.Music.Control(r.Context(), req.Action); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), statusFor(err))
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// POST /api/music/authority: {"authority": "local|remote"}
	mux.HandleFunc("/api/music/authority", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		var req struct {
			Authority state.Authority `json:"authority"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if err := d.Music.SetAuthority(r.Context(), req.Authority); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), statusFor(err))
			return
		}
		writeJSON(w, map[string]string{"authority": req.Authority.String()})
	})
}

func statusFor(err error) int {
	var apiErr *api.Error
	switch {
	case errors.Is(err, playback.ErrNoGuild), errors.Is(err, playback.ErrNoTrack),
		errors.Is(err, playback.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, localaudio.ErrUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
