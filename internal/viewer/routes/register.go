// internal/viewer/routes/register.go
package routes

import (
	"context"
	"net/http"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Music is the playback coordinator.
type Music interface {
	Control(ctx context.Context, action string) error
	SetAuthority(ctx context.Context, a state.Authority) error
}

// Bot is the guild administration side of the bot API.
type Bot interface {
	SetAIMode(ctx context.Context, guild proto.Snowflake, mode string) error
	ToggleChannel(ctx context.Context, guild, channel proto.Snowflake, enable bool) error
	DeleteChannel(ctx context.Context, guild, channel proto.Snowflake) error
	UserHistory(ctx context.Context, user proto.Snowflake, limit int) (proto.UserHistory, error)
}

type Deps struct {
	Store *state.Store
	Logs  Logs
	Music Music
	Bot   Bot

	// SelectGuild switches the selected guild everywhere (store, poller,
	// coordinator).
	SelectGuild func(ctx context.Context, id proto.Snowflake) error

	// Refresh runs a poll resource out of band.
	Refresh func(resource string)

	// LocalOnly restricts mutating endpoints to loopback clients.
	LocalOnly bool
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerStateRoutes(mux, d)
	registerMusicRoutes(mux, d)
	registerGuildRoutes(mux, d)
	registerBotRoutes(mux, d)
}

// mutating guards a POST endpoint.
func (d Deps) mutating(w http.ResponseWriter, r *http.Request) bool {
	if !requireMethod(w, r, http.MethodPost) {
		return false
	}
	if d.LocalOnly && !requireLocal(w, r) {
		return false
	}
	return true
}
