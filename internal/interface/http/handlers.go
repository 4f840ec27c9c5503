package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alem-hub/shadow-ranch/internal/application/command"
	"github.com/alem-hub/shadow-ranch/internal/application/query"
	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Shadow Ranch Progress API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":   "/health",
			"progress": "/api/v1/progress",
			"records":  "/api/v1/records/{authority}",
			"stats":    "/api/v1/stats",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleInitializeUser handles POST /api/v1/progress.
func (s *Server) handleInitializeUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.InitializeUserHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, codeNotImplemented, "Initialize handler not configured")
		return
	}
	requester, _ := requesterFrom(r.Context())

	rec, err := s.deps.InitializeUserHandler.Handle(r.Context(), command.InitializeUserCommand{Requester: requester})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewProgressDTO(rec, nil))
}

// handleGetOwnProgress handles GET /api/v1/progress.
func (s *Server) handleGetOwnProgress(w http.ResponseWriter, r *http.Request) {
	requester, _ := requesterFrom(r.Context())
	s.writeProgress(w, r, requester)
}

// handleGetProgress handles GET /api/v1/records/{authority}.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	owner, err := progress.ParseAuthority(r.PathValue("authority"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeProgress(w, r, owner)
}

func (s *Server) writeProgress(w http.ResponseWriter, r *http.Request, owner progress.Authority) {
	if s.deps.GetProgressHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, codeNotImplemented, "Progress handler not configured")
		return
	}
	dto, err := s.deps.GetProgressHandler.Handle(r.Context(), query.GetProgressQuery{Authority: owner})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleCompleteChallenge handles POST .../challenges/{id}.
func (s *Server) handleCompleteChallenge(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteChallengeHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, codeNotImplemented, "Challenge handler not configured")
		return
	}
	owner, requester, err := s.resolveOwner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathUint8(r, "id", progress.ErrInvalidChallengeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.CompleteChallengeHandler.Handle(r.Context(), command.CompleteChallengeCommand{
		Owner:       owner,
		Requester:   requester,
		ChallengeID: progress.ChallengeID(id),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mutationResponse{
		Progress: query.NewProgressDTO(res.Record, nil),
		Changed:  res.Newly,
	})
}

// handleCompleteModule handles POST .../modules/{id}.
func (s *Server) handleCompleteModule(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteModuleHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, codeNotImplemented, "Module handler not configured")
		return
	}
	owner, requester, err := s.resolveOwner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathUint8(r, "id", progress.ErrInvalidModuleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.CompleteModuleHandler.Handle(r.Context(), command.CompleteModuleCommand{
		Owner:     owner,
		Requester: requester,
		ModuleID:  progress.ModuleID(id),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mutationResponse{
		Progress: query.NewProgressDTO(res.Record, nil),
		Changed:  res.Newly,
	})
}

// mutationResponse is returned by challenge and module completion.
// Changed is false when the bit was already set.
type mutationResponse struct {
	Progress *query.ProgressDTO `json:"progress"`
	Changed  bool               `json:"changed"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// mintRequest is the optional body of the credential endpoint.
type mintRequest struct {
	Title  string `json:"title"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

// credentialResponse is the credential endpoint response.
type credentialResponse struct {
	*query.CredentialDTO
	Module   uint8 `json:"module"`
	Replayed bool  `json:"replayed"`
}

// handleMintCredential handles POST .../modules/{id}/credential.
// An empty body selects the catalogue defaults for the module.
func (s *Server) handleMintCredential(w http.ResponseWriter, r *http.Request) {
	if s.deps.MintCredentialHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, codeNotImplemented, "Credential handler not configured")
		return
	}
	owner, requester, err := s.resolveOwner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathUint8(r, "id", progress.ErrInvalidModuleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var body mintRequest
	if err := decodeOptionalJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	cred, err := s.deps.MintCredentialHandler.Handle(r.Context(), command.MintAchievementCredentialCommand{
		Owner:     owner,
		Requester: requester,
		ModuleID:  progress.ModuleID(id),
		Metadata:  credential.Metadata{Title: body.Title, Symbol: body.Symbol, URI: body.URI},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if cred.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, r, status, credentialResponse{
		CredentialDTO: query.NewCredentialDTO(cred),
		Module:        uint8(cred.Module),
		Replayed:      cred.Replayed,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStats handles GET /api/v1/stats.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStatsHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, codeNotImplemented, "Stats handler not configured")
		return
	}
	dto, err := s.deps.GetStatsHandler.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// resolveOwner returns the record owner and the requester. Without an
// {authority} path segment the requester addresses its own record.
func (s *Server) resolveOwner(r *http.Request) (owner, requester progress.Authority, err error) {
	requester, _ = requesterFrom(r.Context())
	raw := r.PathValue("authority")
	if raw == "" {
		return requester, requester, nil
	}
	owner, err = progress.ParseAuthority(raw)
	if err != nil {
		return owner, requester, err
	}
	return owner, requester, nil
}

// decodeOptionalJSON decodes the request body into v. An empty body
// leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return shared.WrapError(credential.ErrInvalidMetadata, err)
	}
	return nil
}
