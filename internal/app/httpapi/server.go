// Package httpapi exposes the dashboard REST surface. Every endpoint other
// than the webhook and the CSV export funnels through the action pipeline.
package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chainpulse/console/internal/action"
	"github.com/chainpulse/console/internal/app/metrics"
	"github.com/chainpulse/console/internal/app/services/apikeys"
	"github.com/chainpulse/console/internal/app/services/system"
	"github.com/chainpulse/console/internal/app/services/usage"
	"github.com/chainpulse/console/internal/billing"
	"github.com/chainpulse/console/internal/identity"
	"github.com/chainpulse/console/internal/session"
	"github.com/chainpulse/console/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Server bundles the services behind the REST routes.
type Server struct {
	executor *action.Executor
	sessions *session.Manager
	identity *identity.Service
	keys     *apikeys.Service
	usage    *usage.Service
	billing  *billing.Service
	webhook  *billing.WebhookProcessor
	system   *system.Service
	metrics  *metrics.Metrics
	log      *logger.Logger
	cors     []string
}

// Config wires the server's collaborators.
type Config struct {
	Executor    *action.Executor
	Sessions    *session.Manager
	Identity    *identity.Service
	Keys        *apikeys.Service
	Usage       *usage.Service
	Billing     *billing.Service
	Webhook     *billing.WebhookProcessor
	System      *system.Service
	Metrics     *metrics.Metrics
	Log         *logger.Logger
	CORSOrigins []string
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		executor: cfg.Executor,
		sessions: cfg.Sessions,
		identity: cfg.Identity,
		keys:     cfg.Keys,
		usage:    cfg.Usage,
		billing:  cfg.Billing,
		webhook:  cfg.Webhook,
		system:   cfg.System,
		metrics:  cfg.Metrics,
		log:      log,
		cors:     cfg.CORSOrigins,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(instrumentMiddleware(s.metrics, s.log))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/auth/resend", s.handleResend).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/signout", s.handleSignOut).Methods(http.MethodPost)
	api.HandleFunc("/auth/forgot", s.handleForgot).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/keys", s.handleListKeys).Methods(http.MethodGet)
	api.HandleFunc("/keys", s.handleCreateKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/{id}", s.handleDeleteKey).Methods(http.MethodDelete)
	api.HandleFunc("/keys/{id}/toggle", s.handleToggleKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/{id}/rotate", s.handleRotateKey).Methods(http.MethodPost)

	api.HandleFunc("/usage/daily", s.handleUsageDaily).Methods(http.MethodGet)
	api.HandleFunc("/usage/endpoints", s.handleUsageEndpoints).Methods(http.MethodGet)
	api.HandleFunc("/usage/summary", s.handleUsageSummary).Methods(http.MethodGet)
	api.HandleFunc("/usage/export", s.handleUsageExport).Methods(http.MethodGet)

	api.HandleFunc("/billing/plans", s.handlePlans).Methods(http.MethodGet)
	api.HandleFunc("/billing/subscription", s.handleSubscription).Methods(http.MethodGet)
	api.HandleFunc("/billing/checkout", s.handleCheckout).Methods(http.MethodPost)
	api.HandleFunc("/billing/portal", s.handlePortal).Methods(http.MethodPost)
	api.HandleFunc("/billing/webhook", s.handleWebhook).Methods(http.MethodPost)

	api.HandleFunc("/overview", s.handleOverview).Methods(http.MethodGet)
	api.HandleFunc("/admin/system", s.handleAdminSystem).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests short-circuit before
	// method matching rejects them.
	return corsMiddleware(s.cors)(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respond writes the action result with the matching HTTP status.
func respond[T any](w http.ResponseWriter, res action.Result[T]) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Kind())
	}
	writeJSON(w, status, res)
}

func readBody(r *http.Request) []byte {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil
	}
	return body
}
