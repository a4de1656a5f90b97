package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
)

type createContactRequest struct {
	PhoneNumber      string               `json:"phone_number"`
	Email            string               `json:"email"`
	Name             string               `json:"name"`
	Bio              string               `json:"bio"`
	ExpertiseSummary string               `json:"expertise_summary"`
	ExpertiseTags    []model.ExpertiseTag `json:"expertise_tags"`
	TrustScore       *float64             `json:"trust_score"`
	MaxQueriesPerDay int                  `json:"max_queries_per_day"`
	Metadata         map[string]any       `json:"metadata"`
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		respondError(w, http.StatusBadRequest, "phone_number is required")
		return
	}

	trust := 0.5
	if req.TrustScore != nil {
		trust = *req.TrustScore
	}
	maxPerDay := req.MaxQueriesPerDay
	if maxPerDay <= 0 {
		maxPerDay = 10
	}

	now := time.Now()
	contact := &model.Contact{
		ID:               uuid.New(),
		PhoneNumber:      req.PhoneNumber,
		Email:            req.Email,
		Name:             req.Name,
		Bio:              req.Bio,
		ExpertiseSummary: req.ExpertiseSummary,
		ExpertiseTags:    req.ExpertiseTags,
		TrustScore:       trust,
		IsAvailable:      true,
		MaxQueriesPerDay: maxPerDay,
		Status:           model.ContactStatusActive,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateContact(r.Context(), contact); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, contact)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	filter := store.ContactFilter{
		Status: model.ContactStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	contacts, err := s.store.ListContacts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contacts == nil {
		contacts = []*model.Contact{}
	}
	respondJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	contact, err := s.store.GetContact(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, contact)
}
