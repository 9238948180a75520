// internal/app/helpers.go
package app

import (
	"strings"

	"github.com/petervdpas/botdash/internal/config"
)

// viewerURL turns a listen addr into something a browser can open.
func viewerURL(addr string) string {
	a := strings.TrimSpace(addr)
	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	return "http://" + a
}

func logBanner(cfgPath string, cfg config.Config) {
	log.Info("────────────────────────────────────────")
	log.Info("botdash")
	if cfgPath != "" {
		log.Infof(" Config file : %s", cfgPath)
	}
	log.Infof(" Bot API     : %s", cfg.Backend.APIURL)
	log.Infof(" Push channel: %s", cfg.WSEndpoint())
	if cfg.Archive.DBPath != "" {
		log.Infof(" Archive     : %s", cfg.Archive.DBPath)
	}
	log.Info("────────────────────────────────────────")
}
