package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/matching"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/queries"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
)

type createQueryRequest struct {
	UserPhone      string         `json:"user_phone"`
	QuestionText   string         `json:"question_text"`
	MinExperts     int            `json:"min_experts"`
	MaxExperts     int            `json:"max_experts"`
	TimeoutMinutes int            `json:"timeout_minutes"`
	TotalCostCents int64          `json:"total_cost_cents"`
	Context        map[string]any `json:"context"`
}

func (s *Server) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query, err := s.queries.Create(r.Context(), queries.CreateParams{
		UserPhone:      req.UserPhone,
		QuestionText:   req.QuestionText,
		MinExperts:     req.MinExperts,
		MaxExperts:     req.MaxExperts,
		TimeoutMinutes: req.TimeoutMinutes,
		TotalCostCents: req.TotalCostCents,
		Context:        req.Context,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, query)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	filter := store.QueryFilter{
		Status:    model.QueryStatus(r.URL.Query().Get("status")),
		UserPhone: r.URL.Query().Get("user_phone"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	out, err := s.queries.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if out == nil {
		out = []*model.Query{}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	query, err := s.queries.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, query)
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	snapshot, err := s.queries.Status(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleQueryMatches(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	matches, err := s.store.ListMatches(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []*model.MatchRecord{}
	}
	respondJSON(w, http.StatusOK, matches)
}

type routeQueryRequest struct {
	Tags          []string `json:"tags"`
	Limit         int      `json:"limit"`
	LocationBoost bool     `json:"location_boost"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	IncludeRecent bool     `json:"include_recent"`
}

type routeQueryResponse struct {
	Matches  []*model.MatchRecord    `json:"matches"`
	Outreach []*model.OutreachRecord `json:"outreach"`
}

// handleRouteQuery runs the routing leg for a pending query: match experts,
// invite them, and move the query to collecting.
func (s *Server) handleRouteQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req routeQueryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	query, err := s.queries.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if err := s.queries.UpdateStatus(r.Context(), id, model.QueryStatusRouting, ""); err != nil {
		respondTransitionError(w, err)
		return
	}
	query.Status = model.QueryStatusRouting

	candidates, err := s.store.ListContacts(r.Context(), store.ContactFilter{OnlyMatchable: true})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := matching.Options{
		Limit:         req.Limit,
		QueryTags:     req.Tags,
		LocationBoost: req.LocationBoost,
		IncludeRecent: req.IncludeRecent,
	}
	if req.Latitude != nil && req.Longitude != nil {
		opts.QueryCoord = &geom.Coord{*req.Longitude, *req.Latitude}
	}

	records, err := s.selector.Select(r.Context(), query, candidates, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		if err := s.queries.UpdateStatus(r.Context(), id, model.QueryStatusFailed, "no experts matched"); err != nil {
			zap.L().Error("api: mark query failed", zap.Error(err))
		}
		respondError(w, http.StatusUnprocessableEntity, "no experts matched")
		return
	}

	byID := make(map[uuid.UUID]*model.Contact, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	matched := make([]*model.Contact, 0, len(records))
	for _, rec := range records {
		if c, ok := byID[rec.ContactID]; ok {
			matched = append(matched, c)
		}
	}

	outreachRecords, err := s.outreach.Dispatch(r.Context(), query, matched)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.queries.UpdateStatus(r.Context(), id, model.QueryStatusCollecting, ""); err != nil {
		respondTransitionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, routeQueryResponse{Matches: records, Outreach: outreachRecords})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	answer, err := s.synthesizer.Synthesize(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleAcceptAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	answer, err := s.queries.AcceptAnswer(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

type cancelQueryRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req cancelQueryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.queries.Cancel(r.Context(), id, req.Reason); err != nil {
		respondTransitionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type recordResponseRequest struct {
	ResponseText string  `json:"response_text"`
	Confidence   float64 `json:"confidence"`
}

func (s *Server) handleRecordResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req recordResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResponseText == "" {
		respondError(w, http.StatusBadRequest, "response_text is required")
		return
	}

	if err := s.store.RecordResponse(r.Context(), id, req.ResponseText, req.Confidence); err != nil {
		respondStoreError(w, err)
		return
	}

	contribution, err := s.store.GetContribution(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, contribution)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondTransitionError(w http.ResponseWriter, err error) {
	if errors.Is(err, queries.ErrInvalidTransition) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondStoreError(w, err)
}
