// Package handlers is the HTTP adapter over the credential store and the key
// generator. The caller's identity comes from a trusted header.
package handlers

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/keyvault/internal/credentials"
	"github.com/gluk-w/claworc/keyvault/internal/logging"
	"github.com/gluk-w/claworc/keyvault/internal/middleware"
	"github.com/gluk-w/claworc/keyvault/internal/ratelimit"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

type Config struct {
	Store     *credentials.Store
	Generator *sshkeys.Generator
	Logger    *zap.Logger

	// DB is pinged by the health check.
	DB *gorm.DB

	OwnerHeader string

	// TrustedSources limits which peers may call /api/v1. Empty allows all.
	TrustedSources []*net.IPNet

	// KeygenLimit throttles generate-key per owner; ValidateLimit throttles
	// validate-key and blocks owners after repeated wrong passphrases. Nil
	// limiters allow everything.
	KeygenLimit   *ratelimit.Limiter
	ValidateLimit *ratelimit.Limiter
}

type Handler struct {
	store         *credentials.Store
	keygen        *sshkeys.Generator
	db            *gorm.DB
	ownerHeader   string
	sources       []*net.IPNet
	keygenLimit   *ratelimit.Limiter
	validateLimit *ratelimit.Limiter
	log           *zap.Logger
}

func New(cfg Config) *Handler {
	header := cfg.OwnerHeader
	if header == "" {
		header = "X-User-ID"
	}
	return &Handler{
		store:         cfg.Store,
		keygen:        cfg.Generator,
		db:            cfg.DB,
		ownerHeader:   header,
		sources:       cfg.TrustedSources,
		keygenLimit:   cfg.KeygenLimit,
		validateLimit: cfg.ValidateLimit,
		log:           logging.OrNop(cfg.Logger).Named("api"),
	}
}

// Routes returns the full router: /health plus the owner-scoped /api/v1 tree.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(h.log))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RestrictSources(h.sources, h.log))
		r.Use(middleware.RequireOwner(h.ownerHeader))

		r.Post("/credentials", h.CreateCredential)
		r.Get("/credentials", h.ListCredentials)
		r.Get("/credentials/export", h.ExportCredentials)
		r.Post("/credentials/bulk/create", h.BulkCreateCredentials)
		r.Delete("/credentials/bulk/delete", h.BulkDeleteCredentials)
		r.Post("/credentials/generate-key", h.GenerateKey)
		r.Post("/credentials/validate-key", h.ValidateKey)
		r.Get("/credentials/{id}", h.GetCredential)
		r.Put("/credentials/{id}", h.UpdateCredential)
		r.Delete("/credentials/{id}", h.DeleteCredential)

		r.Get("/keygen/status", h.KeygenStatus)
	})
	return r
}
