// Package viewer serves the synchronized dashboard state to local
// consumers over HTTP and Server-Sent Events.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
	"github.com/petervdpas/botdash/internal/viewer/routes"
)

var log = logging.Logger("viewer")

const shutdownTimeout = 5 * time.Second

type Viewer struct {
	Store *state.Store
	Logs  *LogBuffer
	Music routes.Music
	Bot   routes.Bot

	SelectGuild func(ctx context.Context, id proto.Snowflake) error
	Refresh     func(resource string)

	// LocalOnly restricts mutating endpoints to loopback clients.
	LocalOnly bool
}

// Handler builds the viewer mux.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	deps := routes.Deps{
		Store:       v.Store,
		Music:       v.Music,
		Bot:         v.Bot,
		SelectGuild: v.SelectGuild,
		Refresh:     v.Refresh,
		LocalOnly:   v.LocalOnly,
	}
	// A nil *LogBuffer must not become a non-nil interface.
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	return noCache(mux)
}

// Start serves on addr until ctx is done. On a non-loopback addr the
// mutating endpoints still answer loopback clients only.
func Start(ctx context.Context, addr string, v Viewer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	if !loopbackOnly(addr) {
		v.LocalOnly = true
	}

	srv := &http.Server{
		Handler:           Handler(v),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Infof("viewer listening on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loopbackOnly(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
