package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"clearcut/internal/domain"
	"clearcut/internal/infra"
	"clearcut/internal/service"
	"clearcut/internal/storage"
)

type App struct {
	Orchestrator *service.Orchestrator
	Ledger       domain.CredentialLedger
	Backend      storage.Backend
	Config       *infra.Config
	Log          zerolog.Logger
}

func NewApp(orch *service.Orchestrator, ledger domain.CredentialLedger, backend storage.Backend, cfg *infra.Config, log zerolog.Logger) *App {
	return &App{
		Orchestrator: orch,
		Ledger:       ledger,
		Backend:      backend,
		Config:       cfg,
		Log:          log,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
