// internal/viewer/routes/api_logs.go

package routes

import "net/http"

func registerAPILogRoutes(mux *http.ServeMux, d Deps) {
	if d.Logs == nil {
		return
	}
	mux.HandleFunc("/api/daemon-logs", d.Logs.ServeLogsJSON)
	mux.HandleFunc("/api/daemon-logs/stream", d.Logs.ServeLogsSSE)
}
