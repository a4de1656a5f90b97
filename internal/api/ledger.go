package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

type balanceResponse struct {
	AccountType  string `json:"account_type"`
	AccountID    string `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountType := chi.URLParam(r, "accountType")
	accountID := chi.URLParam(r, "accountID")

	balance, err := s.ledger.Balance(r.Context(), accountType, accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, balanceResponse{
		AccountType:  accountType,
		AccountID:    accountID,
		BalanceCents: balance,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountType := chi.URLParam(r, "accountType")
	accountID := chi.URLParam(r, "accountID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	entries, err := s.ledger.History(r.Context(), accountType, accountID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleValidateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := s.ledger.ValidateTransaction(r.Context(), id); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"balanced": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"balanced": true})
}
