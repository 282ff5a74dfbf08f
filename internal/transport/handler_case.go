package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/riverrun-io/caseflow/internal/engine"
	"github.com/riverrun-io/caseflow/model"
)

// Capabilities required by the case endpoints.
const (
	capCaseOpen       = "cases:open:execute"
	capCaseRead       = "cases:read:view"
	capCaseTransition = "cases:transition:execute"
	capCaseHistory    = "cases:history:view"
)

func handleCaseOpen(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, capCaseOpen)
		if !ok {
			return
		}

		var body struct {
			WorkflowID string         `json:"workflow_id"`
			CaseID     string         `json:"case_id"`
			Fields     map[string]any `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.WorkflowID == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "workflow_id",
				Code:    model.ErrValidationError,
				Message: "workflow_id is required",
			}})
			return
		}

		state, err := eng.OpenCase(r.Context(), actor, body.WorkflowID, body.CaseID, body.Fields)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, state)
	}
}

func handleCaseGet(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, capCaseRead)
		if !ok {
			return
		}
		caseID := chi.URLParam(r, "caseId")

		state, err := eng.Case(r.Context(), actor, caseID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleCaseTransitions(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, capCaseRead)
		if !ok {
			return
		}
		caseID := chi.URLParam(r, "caseId")

		available, err := eng.ListAvailable(r.Context(), actor, caseID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"transitions": available})
	}
}

func handleCaseExecute(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, capCaseTransition)
		if !ok {
			return
		}
		caseID := chi.URLParam(r, "caseId")
		transitionID := chi.URLParam(r, "transitionId")

		// The body is optional; only notes are carried in it.
		var body struct {
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		record, err := eng.Execute(r.Context(), actor, caseID, transitionID, body.Notes)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, record)
	}
}

func handleCaseHistory(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, capCaseHistory)
		if !ok {
			return
		}
		caseID := chi.URLParam(r, "caseId")
		limit := queryInt(r, "limit", 0)

		records, err := eng.History(r.Context(), actor, caseID, limit)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"records": records})
	}
}

// requireActor extracts the ActorContext and checks the given capability.
// It writes the error response itself and returns ok=false when the request
// must not proceed.
func requireActor(w http.ResponseWriter, r *http.Request, capability string) (*model.ActorContext, bool) {
	actor := model.ActorContextFrom(r.Context())
	if actor == nil {
		WriteError(w, model.NewUnauthorizedError("missing actor context"))
		return nil, false
	}
	if !CapabilitiesFrom(r.Context()).Has(capability) {
		WriteForbidden(w, "missing capability "+capability)
		return nil, false
	}
	return actor, true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
