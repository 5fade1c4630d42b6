package handlers

import (
	"net/http"
)

// Health reports liveness. Queue and database health are not checked here:
// the endpoint backs load-balancer checks and must stay cheap.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "clearcut",
	})
}
