package worker

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	gormdb "github.com/thebtf/suggestd/internal/db/gorm"
	"github.com/thebtf/suggestd/internal/suggest"
	"github.com/thebtf/suggestd/pkg/models"
)

// MaxCandidatesPerRequest caps a single ingest call.
const MaxCandidatesPerRequest = 100

// candidateRequest is one generated suggestion posted for ingest.
type candidateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ScopeKey    string `json:"scopeKey"`
	SourceID    string `json:"sourceId"`
}

// createSuggestionsRequest is the body of POST /api/suggested/{surface}.
type createSuggestionsRequest struct {
	Candidates []candidateRequest `json:"candidates"`
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrUnknownSurface):
		status = http.StatusNotFound
	case errors.Is(err, suggest.ErrMissingUser), errors.Is(err, suggest.ErrUnknownMode):
		status = http.StatusBadRequest
	case errors.Is(err, gormdb.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gormdb.ErrAlreadyArchived):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// surfaceParam parses the {surface} path segment.
func surfaceParam(r *http.Request) (models.Surface, error) {
	return models.ParseSurface(chi.URLParam(r, "surface"))
}

// suggestRequest builds an engine request from the URL and caller.
func suggestRequest(r *http.Request) (suggest.Request, error) {
	surface, err := surfaceParam(r)
	if err != nil {
		return suggest.Request{}, err
	}
	mode, err := suggest.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		return suggest.Request{}, err
	}
	return suggest.Request{Surface: surface, UserID: GetUserID(r.Context()), Mode: mode}, nil
}

// handleGetSuggested returns the suggestion list for one surface.
// Query: mode=new (default) or mode=reinforcements.
func (s *Service) handleGetSuggested(w http.ResponseWriter, r *http.Request) {
	req, err := suggestRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.engine.Suggest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.Failed > 0 {
		w.Header().Set("X-Side-Effect-Failures", "true")
	}
	writeJSON(w, result.Items)
}

// handleGetSuggestedPlan runs the pipeline without side effects and returns the
// full result, per-candidate plan included.
func (s *Service) handleGetSuggestedPlan(w http.ResponseWriter, r *http.Request) {
	req, err := suggestRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.DryRun = true

	result, err := s.engine.Suggest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleCreateSuggestions stores freshly generated candidates as pending suggestions.
func (s *Service) handleCreateSuggestions(w http.ResponseWriter, r *http.Request) {
	surface, err := surfaceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body createSuggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body.Candidates) == 0 {
		http.Error(w, "candidates must not be empty", http.StatusBadRequest)
		return
	}
	if len(body.Candidates) > MaxCandidatesPerRequest {
		http.Error(w, "too many candidates", http.StatusRequestEntityTooLarge)
		return
	}

	candidates := make([]models.Candidate, 0, len(body.Candidates))
	for i, c := range body.Candidates {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			http.Error(w, "candidate title must not be empty", http.StatusBadRequest)
			return
		}
		if surface != models.SurfaceInsight && c.SourceID == "" {
			log.Debug().Int("index", i).Str("surface", string(surface)).Msg("Candidate posted without source")
		}
		candidates = append(candidates, models.Candidate{
			Title:       title,
			Description: strings.TrimSpace(c.Description),
			ScopeKey:    c.ScopeKey,
			SourceID:    c.SourceID,
		})
	}

	created, err := s.items.CreateSuggestions(r.Context(), surface, GetUserID(r.Context()), candidates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

// handleAcceptSuggestion promotes a pending suggestion into a durable item.
func (s *Service) handleAcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	surface, err := surfaceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.items.AcceptSuggestion(r.Context(), surface, GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, item)
}

// handleDismissSuggestion archives a pending suggestion without creating anything.
func (s *Service) handleDismissSuggestion(w http.ResponseWriter, r *http.Request) {
	surface, err := surfaceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.items.DismissSuggestion(r.Context(), surface, GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArchiveItem takes a durable item out of duplicate detection.
func (s *Service) handleArchiveItem(w http.ResponseWriter, r *http.Request) {
	s.setItemStatus(w, r, models.StatusArchived)
}

// handleRestoreItem brings an archived item back into duplicate detection.
func (s *Service) handleRestoreItem(w http.ResponseWriter, r *http.Request) {
	s.setItemStatus(w, r, models.StatusActive)
}

func (s *Service) setItemStatus(w http.ResponseWriter, r *http.Request, status models.ItemStatus) {
	surface, err := surfaceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.items.SetItemStatus(r.Context(), surface, GetUserID(r.Context()), id, status); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"id": id, "status": string(status)})
}
