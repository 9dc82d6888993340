package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fasttrack/internal/controller"
)

func NewRouter(c *controller.Controller) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/ping", c.Ping)
	r.Get("/api/documents", c.Documents)

	// candidate flow, keyed by the market's public fast-track id
	r.Get("/api/fast-track/{fastTrackId}", c.CandidateMarket)
	r.Post("/api/fast-track/{fastTrackId}/applications", c.NewApplication)
	r.Get("/api/applications/{applicationId}", c.GetApplication)
	r.Patch("/api/applications/{applicationId}", c.UpdateContactInfo)
	r.Put("/api/applications/{applicationId}/documents/{documentId}", c.AttachDocument)
	r.Get("/api/applications/{applicationId}/readiness", c.Readiness)
	r.Post("/api/applications/{applicationId}/submit", c.SubmitApplication)
	r.Post("/api/applications/{applicationId}/artifacts", c.RegenerateArtifacts)

	// editor machine API
	r.Post("/api/v1/oauth/token", c.IssueToken)
	r.Post("/api/v1/oauth/refresh", c.RefreshToken)
	r.Get("/api/v1/oauth/status", c.TokenStatus)
	r.Post("/api/v1/oauth/revoke", c.RevokeToken)

	r.Post("/api/v1/markets", c.NewMarket)
	r.Get("/api/v1/markets", c.EditorMarkets)
	r.Get("/api/v1/markets/{marketId}", c.MarketDetail)
	r.Get("/api/v1/markets/{marketId}/applications", c.MarketApplications)
	r.Get("/api/v1/applications/{applicationId}/attestation", c.Artifact("attestation"))
	r.Get("/api/v1/applications/{applicationId}/bundle", c.Artifact("bundle"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("page not found"))
	})

	return r
}
