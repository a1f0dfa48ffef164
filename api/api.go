// Package api exposes the authentication core over REST: account
// creation and login, key fetching, session destruction and revocation,
// the password-forgot flow, and service-signed internal operations.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/bastion/lifecycle"
	"github.com/jmcleod/bastion/signing"
	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config carries the API-level configuration.
type Config struct {
	// Domain is this server's public domain, the audience of inbound
	// service tokens.
	Domain string
	// IsProduction gates test-only escape hatches (pass codes echoed in
	// forgot-password responses).
	IsProduction bool
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	store    storage.Store
	factory  *token.Factory
	manager  *lifecycle.Manager
	verifier *signing.Verifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.log = logger }
}

// WithClock overrides the API's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates a new API instance.
func New(store storage.Store, factory *token.Factory, manager *lifecycle.Manager, verifier *signing.Verifier, cfg Config, opts ...Option) *API {
	a := &API{
		store:    store,
		factory:  factory,
		manager:  manager,
		verifier: verifier,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/redoc",
	}, nil))

	r.Post("/account/create", a.handleAccountCreate)
	r.Post("/account/login", a.handleAccountLogin)
	r.Post("/password/forgot/send_code", a.handleForgotSendCode)

	r.Group(func(r chi.Router) {
		r.Use(a.TokenAuth(token.KindKeyFetch))
		r.Post("/account/keys", a.handleAccountKeys)
	})
	r.Group(func(r chi.Router) {
		r.Use(a.TokenAuth(token.KindSession))
		r.Post("/session/destroy", a.handleSessionDestroy)
	})
	r.Group(func(r chi.Router) {
		r.Use(a.TokenAuth(token.KindSessionRevoke))
		r.Post("/session/revoke", a.handleSessionRevoke)
	})
	r.Group(func(r chi.Router) {
		r.Use(a.TokenAuth(token.KindPasswordForgot))
		r.Post("/password/forgot/verify_code", a.handleForgotVerifyCode)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.ServiceAuth)
		r.Post("/internal/prune", a.handlePrune)
	})

	return r
}
