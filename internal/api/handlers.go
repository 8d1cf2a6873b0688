// Package api implements the thin REST control plane named in SPEC_FULL.md
// §1: add/remove/start/stop of sources, queries and reactions, querying
// current results, and a health endpoint surfacing persistence mode.
//
// Grounded on the teacher's internal/api/handlers.go Handler-struct-plus-
// gin.Context-methods shape (dependencies injected via NewHandler,
// request context taken from c.Request.Context(), gin.H error bodies),
// trimmed to the operations spec.md §4.7 and §8 scenario (d) actually name.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/factory"
	"github.com/drasi-project/drasi-server/internal/instance"
	"github.com/drasi-project/drasi-server/internal/instanceregistry"
	"github.com/drasi-project/drasi-server/internal/logger"
	"github.com/drasi-project/drasi-server/internal/persistence"
	"github.com/drasi-project/drasi-server/internal/registry"
)

// Handler bridges HTTP requests onto the InstanceRegistry/Registry/
// ConfigPersistence substrate.
type Handler struct {
	instances   *instanceregistry.Registry
	plugins     *registry.Registry
	persistence *persistence.ConfigPersistence
}

// NewHandler wires a Handler to its dependencies, mirroring the teacher's
// NewHandler(db, publisher, ...) constructor-injection idiom.
func NewHandler(instances *instanceregistry.Registry, plugins *registry.Registry, persist *persistence.ConfigPersistence) *Handler {
	return &Handler{instances: instances, plugins: plugins, persistence: persist}
}

// Health reports liveness plus the persistence mode booleans DESIGN.md's
// Open Question resolution 3 calls for.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"persistConfig":  h.persistence.PersistConfig(),
		"configReadOnly": h.persistence.ReadOnly(),
	})
}

// PluginInfo lists the registered source/reaction kinds, for clients that
// want to render a config form before calling AddSource/AddReaction.
func (h *Handler) PluginInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sources":   h.plugins.SourceInfos(),
		"reactions": h.plugins.ReactionInfos(),
	})
}

func (h *Handler) instanceOrDefault(c *gin.Context) (*instance.Instance, error) {
	id := c.Param("instance")
	if id == "" {
		return h.instances.GetDefault()
	}
	return h.instances.Get(id)
}

func writeError(c *gin.Context, err error) {
	apiErr, ok := err.(*apierrors.Error)
	if !ok {
		logger.HTTP().Error().Err(err).Msg("unmapped internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Code, "message": apiErr.Message})
}

// addSourceRequest mirrors factory.SourceConfig's wire shape.
type addSourceRequest struct {
	Kind              string                 `json:"kind" binding:"required"`
	ID                string                 `json:"id" binding:"required"`
	AutoStart         bool                   `json:"autoStart"`
	BootstrapProvider string                 `json:"bootstrapProvider"`
	Fields            map[string]interface{} `json:"fields"`
}

// AddSource creates a source from the request body and registers it on
// the target instance without starting it; the next StartInstance starts
// it.
func (h *Handler) AddSource(c *gin.Context) {
	if h.persistence.ReadOnly() {
		writeError(c, apierrors.ReadOnly())
		return
	}
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req addSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierrors.Validation(err.Error()))
		return
	}

	src, err := factory.CreateSource(h.plugins, factory.SourceConfig{
		Kind: req.Kind, ID: req.ID, AutoStart: req.AutoStart,
		BootstrapProvider: req.BootstrapProvider, Fields: req.Fields,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.AddSource(src); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": src.ID(), "kind": src.Kind()})
}

// RemoveSource stops and unregisters a source by id.
func (h *Handler) RemoveSource(c *gin.Context) {
	if h.persistence.ReadOnly() {
		writeError(c, apierrors.ReadOnly())
		return
	}
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.RemoveSource(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// addReactionRequest mirrors factory.ReactionConfig's wire shape.
type addReactionRequest struct {
	Kind      string                 `json:"kind" binding:"required"`
	ID        string                 `json:"id" binding:"required"`
	Queries   []string               `json:"queries"`
	AutoStart bool                   `json:"autoStart"`
	Fields    map[string]interface{} `json:"fields"`
}

// AddReaction creates a reaction from the request body and registers it.
func (h *Handler) AddReaction(c *gin.Context) {
	if h.persistence.ReadOnly() {
		writeError(c, apierrors.ReadOnly())
		return
	}
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req addReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierrors.Validation(err.Error()))
		return
	}

	r, err := factory.CreateReaction(h.plugins, factory.ReactionConfig{
		Kind: req.Kind, ID: req.ID, Queries: req.Queries, AutoStart: req.AutoStart, Fields: req.Fields,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.AddReaction(r); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": r.ID(), "kind": r.Kind()})
}

// RemoveReaction stops and unregisters a reaction by id.
func (h *Handler) RemoveReaction(c *gin.Context) {
	if h.persistence.ReadOnly() {
		writeError(c, apierrors.ReadOnly())
		return
	}
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.RemoveReaction(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveQuery stops and unregisters a continuous query by id.
func (h *Handler) RemoveQuery(c *gin.Context) {
	if h.persistence.ReadOnly() {
		writeError(c, apierrors.ReadOnly())
		return
	}
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.RemoveQuery(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetQueryResults returns the current materialized result set of one
// continuous query (spec.md §4.7's get_query_results).
func (h *Handler) GetQueryResults(c *gin.Context) {
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := inst.GetQueryResults(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// StartInstance starts the target instance: every source and reaction
// still in Created, and every auto-start query.
func (h *Handler) StartInstance(c *gin.Context) {
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// StopInstance stops every component of the target instance.
func (h *Handler) StopInstance(c *gin.Context) {
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := inst.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ListComponentEvents returns the instance's recent ComponentEvent ring
// buffer, for dashboard polling.
func (h *Handler) ListComponentEvents(c *gin.Context) {
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": inst.Events().Recent()})
}

// ListComponentLogs returns the instance's recent per-component log lines
// (the ComponentLogRegistry ring buffer, spec.md §4.7).
func (h *Handler) ListComponentLogs(c *gin.Context) {
	inst, err := h.instanceOrDefault(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": inst.Logs().Recent()})
}
