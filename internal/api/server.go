// Package api exposes the routing pipeline over HTTP: query intake, expert
// routing, response collection, synthesis, and ledger queries.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/ledger"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/matching"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/outreach"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/queries"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/synthesis"
)

// Server wires the pipeline services behind an HTTP router.
type Server struct {
	store       store.Store
	queries     *queries.Service
	selector    *matching.Selector
	outreach    *outreach.Orchestrator
	synthesizer *synthesis.Synthesizer
	ledger      *ledger.Engine
}

// NewServer creates a Server over the given services.
func NewServer(
	st store.Store,
	qs *queries.Service,
	selector *matching.Selector,
	orch *outreach.Orchestrator,
	synth *synthesis.Synthesizer,
	ldg *ledger.Engine,
) *Server {
	return &Server{
		store:       st,
		queries:     qs,
		selector:    selector,
		outreach:    orch,
		synthesizer: synth,
		ledger:      ldg,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/queries", func(r chi.Router) {
			r.Post("/", s.handleCreateQuery)
			r.Get("/", s.handleListQueries)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetQuery)
				r.Get("/status", s.handleQueryStatus)
				r.Get("/matches", s.handleQueryMatches)
				r.Post("/route", s.handleRouteQuery)
				r.Post("/synthesize", s.handleSynthesize)
				r.Post("/accept", s.handleAcceptAnswer)
				r.Post("/cancel", s.handleCancelQuery)
			})
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Post("/", s.handleCreateContact)
			r.Get("/", s.handleListContacts)
			r.Get("/{id}", s.handleGetContact)
		})

		r.Post("/contributions/{id}/response", s.handleRecordResponse)

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/balance/{accountType}/{accountID}", s.handleBalance)
			r.Get("/history/{accountType}/{accountID}", s.handleHistory)
			r.Get("/transactions/{id}/validate", s.handleValidateTransaction)
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
