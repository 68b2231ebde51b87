package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes builds the router with the recover middleware applied globally.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverer)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/fraud/check", s.handleFraudCheck).Methods(http.MethodPost)
	r.HandleFunc("/api/transactions/transfer", s.handleTransfer).Methods(http.MethodPost)

	return r
}

// recoverer converts panics into the generic 500 the contract demands;
// details stay server-side.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
