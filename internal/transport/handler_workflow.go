package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/riverrun-io/caseflow/internal/definition"
	"github.com/riverrun-io/caseflow/internal/engine"
	"github.com/riverrun-io/caseflow/internal/observability"
	"github.com/riverrun-io/caseflow/model"
)

// Capabilities required by the workflow endpoints.
const (
	capWorkflowRead    = "workflows:read:view"
	capWorkflowPublish = "workflows:publish:execute"
)

// workflowSummary is the list representation of a published definition.
type workflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version"`
	Active      bool   `json:"active"`
	States      int    `json:"states"`
	Transitions int    `json:"transitions"`
}

func handleWorkflowList(store *definition.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r, capWorkflowRead); !ok {
			return
		}

		defs := store.All()
		summaries := make([]workflowSummary, 0, len(defs))
		for _, d := range defs {
			summaries = append(summaries, workflowSummary{
				ID:          d.ID,
				Name:        d.Name,
				Description: d.Description,
				Version:     d.Version,
				Active:      d.Active,
				States:      len(d.States),
				Transitions: len(d.Transitions),
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"workflows": summaries})
	}
}

func handleWorkflowGet(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r, capWorkflowRead); !ok {
			return
		}
		workflowID := chi.URLParam(r, "workflowId")
		version := queryInt(r, "version", 0)

		def, err := eng.Definition(r.Context(), workflowID, version)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}

func handleWorkflowPublish(store *definition.Store, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r, capWorkflowPublish); !ok {
			return
		}

		var def model.WorkflowDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		published, err := store.Publish(def)
		if err != nil {
			if metrics != nil {
				metrics.RecordDefinitionPublish("failure")
			}
			WriteError(w, err)
			return
		}
		// Advisory graph problems do not block a publish; they are logged for
		// the operator.
		for _, warn := range definition.NewValidator().Warnings(published) {
			logger.Warn("workflow definition advisory",
				zap.String("workflow_id", published.ID),
				zap.Int("version", published.Version),
				zap.String("detail", warn),
			)
		}
		if metrics != nil {
			metrics.RecordDefinitionPublish("success")
			metrics.SetDefinitionsLoaded(float64(len(store.All())))
		}
		WriteJSON(w, http.StatusCreated, published)
	}
}
