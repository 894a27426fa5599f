package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if a.Hub != nil {
		body["stream_clients"] = a.Hub.Clients()
	}
	a.json(w, http.StatusOK, body)
}
