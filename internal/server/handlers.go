package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kakunin/internal/feedback"
	"github.com/hyperjump/kakunin/internal/models"
	"go.uber.org/zap"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("analyze request", zap.String("document_id", req.DocumentID))
	resp, err := s.deps.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, "analyze failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Reviews.Get(r.Context(), chi.URLParam(r, "case_id"))
	if err != nil {
		s.fail(w, "get case failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req models.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := s.deps.Reviews.Claim(r.Context(), chi.URLParam(r, "case_id"), strings.TrimSpace(req.ReviewerID))
	if err != nil {
		s.fail(w, "claim failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req models.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		s.fail(w, "decision rejected", err)
		return
	}
	c, err := s.deps.Reviews.SubmitDecision(r.Context(), chi.URLParam(r, "case_id"),
		strings.TrimSpace(req.ReviewerID), decision, req.Comment)
	if err != nil {
		s.fail(w, "decision failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.String("title", input.Title))
	doc, err := s.deps.Indexer.IndexDocument(r.Context(), &input)
	if err != nil {
		s.fail(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Library.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.deps.Indexer.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	out := make([]models.PromptTemplate, 0)
	for _, id := range s.deps.Prompts.Templates() {
		versions, err := s.deps.Prompts.Versions(id)
		if err != nil {
			s.fail(w, "list prompts failed", err)
			return
		}
		listing := models.PromptTemplate{TemplateID: id, Versions: versions}
		for _, v := range versions {
			if s.deps.Feedback != nil && s.deps.Feedback.Flagged(v.Ref()) {
				listing.Flagged = append(listing.Flagged, v.Version)
			}
		}
		out = append(out, listing)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"templates": out})
}

type registerPromptRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleRegisterPrompt(w http.ResponseWriter, r *http.Request) {
	var req registerPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, err := s.deps.Prompts.Register(r.Context(), chi.URLParam(r, "template_id"), req.Body)
	if err != nil {
		s.fail(w, "register prompt failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, v)
}

type promoteRequest struct {
	Version int `json:"version"`
}

func (s *Server) handlePromotePrompt(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	templateID := chi.URLParam(r, "template_id")
	if err := s.deps.Prompts.Promote(r.Context(), templateID, req.Version); err != nil {
		var regression *models.RegressionError
		if errors.As(err, &regression) {
			s.logger.Warn("prompt promotion blocked",
				zap.String("template_id", templateID),
				zap.Int("version", req.Version),
				zap.Strings("failed_cases", regression.FailedCases))
			s.respondJSON(w, statusFor(err), map[string]interface{}{
				"error":        err.Error(),
				"failed_cases": regression.FailedCases,
			})
			return
		}
		s.fail(w, "promote prompt failed", err)
		return
	}
	active, err := s.deps.Prompts.Active(templateID)
	if err != nil {
		s.fail(w, "promote prompt failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, active)
}

func (s *Server) handleFeedbackFlags(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Flags  []feedback.Flag         `json:"flags"`
		Stats  []feedback.VersionStats `json:"stats"`
		Advice *feedback.Advice        `json:"advice,omitempty"`
	}{Flags: []feedback.Flag{}, Stats: []feedback.VersionStats{}}
	if s.deps.Feedback != nil {
		resp.Flags = s.deps.Feedback.Flags()
		resp.Stats = s.deps.Feedback.Stats()
		advice := s.deps.Feedback.Advise()
		resp.Advice = &advice
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.Status(r.Context())
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// Status reports corpus, review and prompt state.
func (s *Server) Status(ctx context.Context) (*models.StatusReport, error) {
	snap := s.deps.Library.Snapshot()
	counts, err := s.deps.Store.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	report := &models.StatusReport{
		Corpus: models.CorpusStatus{
			Documents:       snap.DocumentCount(),
			Chunks:          snap.ChunkCount(),
			SnapshotVersion: snap.Version(),
			BuiltAt:         snap.BuiltAt(),
		},
		Storage:        s.config.Storage.Driver,
		Cases:          counts,
		Threshold:      s.deps.Reviews.Threshold(),
		ActivePrompts:  s.deps.Prompts.ActiveRefs(),
		FlaggedPrompts: []models.PromptRef{},
		EventLog:       s.config.Feedback.EventLog,
	}
	for state, n := range counts {
		if state.Open() {
			report.OpenCases += n
		}
	}
	if sized, ok := s.deps.Store.(interface{ SizeBytes() int64 }); ok {
		report.DatabaseBytes = sized.SizeBytes()
	}
	if s.deps.Feedback != nil {
		for _, f := range s.deps.Feedback.Flags() {
			report.FlaggedPrompts = append(report.FlaggedPrompts, f.Prompt)
		}
		sort.Slice(report.FlaggedPrompts, func(i, j int) bool {
			return report.FlaggedPrompts[i].String() < report.FlaggedPrompts[j].String()
		})
	}
	return report, nil
}

// statusFor maps pipeline and workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownTemplate):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyClaimed),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrNotOwner):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrMissingVariable),
		errors.Is(err, models.ErrRegressionFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrGenerationUnavailable), errors.Is(err, models.ErrGenerationTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail logs err and writes it with the status statusFor picks.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
