package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/impostor/internal/hub"
	"github.com/DoyleJ11/impostor/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRoutes(h *hub.Hub, opts ws.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(h))
	r.Post("/{channel}", Publish(h))
	r.Get("/{channel}/ws", ws.Handler(h, opts))
	return r
}
