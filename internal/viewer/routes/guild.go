package routes

import (
	"fmt"
	"net/http"

	"github.com/petervdpas/botdash/internal/proto"
)

func registerGuildRoutes(mux *http.ServeMux, d Deps) {

	// GET /api/guilds: guilds the bot is in
	mux.HandleFunc("/api/guilds", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, map[string]any{
			"selected": d.Store.Guild(),
			"guilds":   d.Store.Guilds(),
		})
	})

	// POST /api/guild: {"guild_id": "123"}
	mux.HandleFunc("/api/guild", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		if d.SelectGuild == nil {
			http.Error(w, "guild selection unavailable", http.StatusServiceUnavailable)
			return
		}
		var req struct {
			GuildID proto.Snowflake `json:"guild_id"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if !validID(req.GuildID) {
			http.Error(w, "invalid guild_id", http.StatusBadRequest)
			return
		}
		if err := d.SelectGuild(r.Context(), req.GuildID); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"guild_id": req.GuildID.String()})
	})
}
