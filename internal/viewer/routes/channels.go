package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/petervdpas/botdash/internal/poll"
	"github.com/petervdpas/botdash/internal/proto"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func registerBotRoutes(mux *http.ServeMux, d Deps) {
	if d.Bot == nil {
		return
	}

	// POST /api/ai-mode: {"mode": "..."} for the selected guild
	mux.HandleFunc("/api/ai-mode", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if req.Mode == "" {
			http.Error(w, "missing mode", http.StatusBadRequest)
			return
		}
		guild, ok := selectedGuild(w, d)
		if !ok {
			return
		}
		if err := d.Bot.SetAIMode(r.Context(), guild, req.Mode); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), statusFor(err))
			return
		}
		d.Store.SetAIMode(guild, req.Mode)
		writeJSON(w, map[string]string{"guild_id": guild.String(), "mode": req.Mode})
	})

	// POST /api/channels/toggle: {"channel_id": "123", "enable": true}
	mux.HandleFunc("/api/channels/toggle", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		var req struct {
			ChannelID proto.Snowflake `json:"channel_id"`
			Enable    bool            `json:"enable"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if !validID(req.ChannelID) {
			http.Error(w, "invalid channel_id", http.StatusBadRequest)
			return
		}
		guild, ok := selectedGuild(w, d)
		if !ok {
			return
		}
		if err := d.Bot.ToggleChannel(r.Context(), guild, req.ChannelID, req.Enable); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), statusFor(err))
			return
		}
		if d.Refresh != nil {
			d.Refresh(poll.Activity)
		}
		writeJSON(w, map[string]any{"channel_id": req.ChannelID, "enabled": req.Enable})
	})

	// POST /api/channels/delete: {"channel_id": "123"}
	mux.HandleFunc("/api/channels/delete", func(w http.ResponseWriter, r *http.Request) {
		if !d.mutating(w, r) {
			return
		}
		var req struct {
			ChannelID proto.Snowflake `json:"channel_id"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if !validID(req.ChannelID) {
			http.Error(w, "invalid channel_id", http.StatusBadRequest)
			return
		}
		guild, ok := selectedGuild(w, d)
		if !ok {
			return
		}
		if err := d.Bot.DeleteChannel(r.Context(), guild, req.ChannelID); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), statusFor(err))
			return
		}
		d.Store.RemoveChannel(guild, req.ChannelID)
		writeJSON(w, map[string]string{"status": "deleted", "channel_id": req.ChannelID.String()})
	})

	// GET /api/users/{id}/history[?limit=50]
	mux.HandleFunc("/api/users/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		user := proto.Snowflake(r.PathValue("id"))
		if !validID(user) {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		h, err := d.Bot.UserHistory(r.Context(), user, limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), statusFor(err))
			return
		}
		writeJSON(w, h)
	})
}

func selectedGuild(w http.ResponseWriter, d Deps) (proto.Snowflake, bool) {
	guild := d.Store.Guild()
	if guild == "" {
		http.Error(w, "no guild selected", http.StatusConflict)
		return "", false
	}
	return guild, true
}

func validID(id proto.Snowflake) bool {
	_, err := strconv.ParseUint(id.String(), 10, 64)
	return err == nil
}
