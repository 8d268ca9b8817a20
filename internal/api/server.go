package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/gatekeeper"
	"github.com/samijaber1/inquisitor-gate/internal/rules"
	"github.com/samijaber1/inquisitor-gate/internal/storage"
)

// DefaultMaxDraftBytes caps request bodies when no limit is configured
const DefaultMaxDraftBytes int64 = 64 * 1024

// Server is the HTTP API server
type Server struct {
	gatekeeper    *gatekeeper.Gatekeeper
	server        *http.Server
	logger        zerolog.Logger
	maxDraftBytes int64
}

// NewServer creates a new API server
func NewServer(gk *gatekeeper.Gatekeeper, addr string, maxDraftBytes int64, logger zerolog.Logger) *Server {
	if maxDraftBytes <= 0 {
		maxDraftBytes = DefaultMaxDraftBytes
	}

	s := &Server{
		gatekeeper:    gk,
		logger:        logger.With().Str("component", "api").Logger(),
		maxDraftBytes: maxDraftBytes,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	// Rule endpoints
	mux.HandleFunc("/v1/rules", s.handleRuleList)
	mux.HandleFunc("/v1/rules/", s.handleRuleGet)

	// Gate check endpoint
	mux.HandleFunc("/v1/gate/check", s.handleGateCheck)

	// Audit endpoints
	mux.HandleFunc("/v1/checks", s.handleCheckList)
	mux.HandleFunc("/v1/checks/", s.handleCheckGet)

	// State endpoints
	mux.HandleFunc("/v1/state", s.handleStateList)
	mux.HandleFunc("/v1/state/", s.handleState)

	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down API server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: versioninfo.Short()})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rs := s.gatekeeper.RuleSet()
	reasons := []string{}

	if rs == nil {
		reasons = append(reasons, "no rule set loaded")
	}

	if s.gatekeeper.Storage() == nil {
		reasons = append(reasons, "decision storage not configured")
	}

	ready := len(reasons) == 0
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:        ready,
		RulesLoaded:  rs.Len(),
		Digest:       rs.Digest(),
		ScopesCached: s.gatekeeper.Cache().Size(),
		Reasons:      reasons,
	})
}

// handleRuleList handles GET /v1/rules
func (s *Server) handleRuleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rs := s.gatekeeper.RuleSet()
	if rs == nil {
		respondError(w, http.StatusServiceUnavailable, "no rule set loaded")
		return
	}

	summaries := make([]RuleSummary, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		summaries = append(summaries, ruleSummary(rs.At(i)))
	}

	respondJSON(w, http.StatusOK, RuleListResponse{
		Digest:  rs.Digest(),
		Sources: rs.Sources(),
		Rules:   summaries,
	})
}

// handleRuleGet handles GET /v1/rules/{id}
func (s *Server) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/rules/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "rule ID required")
		return
	}

	rule, ok := s.gatekeeper.RuleSet().Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("rule not found: %s", id))
		return
	}

	respondJSON(w, http.StatusOK, RuleDetail{
		RuleSummary:   ruleSummary(rule),
		Pattern:       rule.Pattern,
		CaseSensitive: rule.CaseSensitive,
	})
}

// handleGateCheck handles POST /v1/gate/check
func (s *Server) handleGateCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxDraftBytes)

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("draft exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	draft := gate.Draft{Scope: req.Scope, Text: req.Text}
	if draft.Scope == "" {
		draft.Scope = gate.DefaultScope
	}

	checkID, decision, err := s.gatekeeper.Check(draft)
	if errors.Is(err, gatekeeper.ErrNoRuleSet) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("scope", draft.Scope).Msg("gate check failed")
		respondError(w, http.StatusInternalServerError, "failed to record decision; do not publish")
		return
	}

	respondJSON(w, http.StatusOK, CheckResponse{CheckID: checkID, Decision: decision})
}

// handleCheckList handles GET /v1/checks
func (s *Server) handleCheckList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store := s.gatekeeper.Storage()
	if store == nil {
		respondError(w, http.StatusServiceUnavailable, "decision storage not configured")
		return
	}

	filter, err := parseCheckFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := store.QueryChecks(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query checks: %v", err))
		return
	}

	responseRecords := make([]CheckRecordResponse, len(records))
	for i, record := range records {
		responseRecords[i] = checkRecordResponse(record)
	}

	respondJSON(w, http.StatusOK, CheckListResponse{
		Records: responseRecords,
		Total:   len(responseRecords),
	})
}

// handleCheckGet handles GET /v1/checks/{id}
func (s *Server) handleCheckGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store := s.gatekeeper.Storage()
	if store == nil {
		respondError(w, http.StatusServiceUnavailable, "decision storage not configured")
		return
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/v1/checks/"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "check ID must be a positive integer")
		return
	}

	record, err := store.GetCheck(id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("check not found: %d", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get check: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, checkRecordResponse(*record))
}

// handleStateList handles GET /v1/state
func (s *Server) handleStateList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cached := s.gatekeeper.Cache().GetAll()

	states := make([]StateResponse, 0, len(cached))
	for scope, state := range cached {
		states = append(states, stateResponse(scope, state))
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Scope < states[j].Scope
	})

	respondJSON(w, http.StatusOK, StateListResponse{
		States: states,
		Total:  len(states),
	})
}

func stateResponse(scope string, state *gatekeeper.ScopeState) StateResponse {
	return StateResponse{
		Scope:     scope,
		CheckID:   state.CheckID,
		Allow:     state.Decision.Allow,
		Verdict:   string(state.Decision.Verdict),
		Flags:     state.Decision.Flags,
		Blocks:    state.Decision.Blocks,
		Reasons:   state.Decision.Reasons,
		UpdatedAt: state.UpdatedAt,
	}
}

// handleState handles GET /v1/state/{scope}
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scope := strings.TrimPrefix(r.URL.Path, "/v1/state/")
	if scope == "" {
		respondError(w, http.StatusBadRequest, "scope required")
		return
	}

	if state, ok := s.gatekeeper.Cache().Get(scope); ok {
		respondJSON(w, http.StatusOK, stateResponse(scope, state))
		return
	}

	store := s.gatekeeper.Storage()
	if store == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no decision found for scope: %s", scope))
		return
	}

	latest, err := store.GetLatestState(scope)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no decision found for scope: %s", scope))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get state: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, StateResponse{
		Scope:     latest.Scope,
		CheckID:   latest.CheckID,
		Allow:     latest.Allow,
		Verdict:   latest.Verdict,
		Flags:     latest.Flags,
		Blocks:    latest.Blocks,
		Reasons:   latest.Reasons,
		UpdatedAt: latest.UpdatedAt,
	})
}

func parseCheckFilter(r *http.Request) (storage.CheckFilter, error) {
	query := r.URL.Query()
	filter := storage.CheckFilter{
		Scope:   query.Get("scope"),
		Verdict: query.Get("verdict"),
		RuleID:  query.Get("rule"),
	}

	switch filter.Verdict {
	case "", string(gate.VerdictAllow), string(gate.VerdictFlag), string(gate.VerdictBlock):
	default:
		return filter, fmt.Errorf("invalid verdict: %s", filter.Verdict)
	}

	if allowStr := query.Get("allow"); allowStr != "" {
		allow, err := strconv.ParseBool(allowStr)
		if err != nil {
			return filter, fmt.Errorf("invalid allow: %s", allowStr)
		}
		filter.Allow = &allow
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit: %s", limitStr)
		}
		filter.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset: %s", offsetStr)
		}
		filter.Offset = offset
	}

	if startTimeStr := query.Get("startTime"); startTimeStr != "" {
		startTime, err := time.Parse(time.RFC3339, startTimeStr)
		if err != nil {
			return filter, fmt.Errorf("invalid startTime: %s", startTimeStr)
		}
		filter.StartTime = &startTime
	}

	if endTimeStr := query.Get("endTime"); endTimeStr != "" {
		endTime, err := time.Parse(time.RFC3339, endTimeStr)
		if err != nil {
			return filter, fmt.Errorf("invalid endTime: %s", endTimeStr)
		}
		filter.EndTime = &endTime
	}

	return filter, nil
}

func ruleSummary(rule rules.CompiledRule) RuleSummary {
	return RuleSummary{
		ID:        rule.ID,
		Name:      rule.Name,
		Action:    string(rule.Action),
		Category:  rule.Category,
		Weight:    rule.Weight,
		Escalated: rule.Escalated,
	}
}

func checkRecordResponse(record storage.CheckRecord) CheckRecordResponse {
	return CheckRecordResponse{
		ID:            record.ID,
		Scope:         record.Scope,
		Text:          record.Text,
		Allow:         record.Allow,
		Verdict:       record.Verdict,
		Flags:         record.Flags,
		Blocks:        record.Blocks,
		Reasons:       record.Reasons,
		Explanation:   record.Explanation,
		RawMatch:      record.RawMatch,
		Warnings:      record.Warnings,
		RuleSetDigest: record.RuleSetDigest,
		EvaluatedAt:   record.EvaluatedAt,
		CreatedAt:     record.CreatedAt,
	}
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
