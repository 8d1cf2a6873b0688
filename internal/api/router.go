package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin.Engine covering exactly the operations named in
// SPEC_FULL.md's REST control plane section, grounded on the teacher's
// setupRoutes grouping-by-resource idiom (router.Group per resource family).
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Health)
	router.GET("/plugins", h.PluginInfo)

	v1 := router.Group("/api/v1")
	{
		instances := v1.Group("/instances/:instance")
		{
			instances.POST("/start", h.StartInstance)
			instances.POST("/stop", h.StopInstance)
			instances.GET("/events", h.ListComponentEvents)
			instances.GET("/logs", h.ListComponentLogs)

			instances.POST("/sources", h.AddSource)
			instances.DELETE("/sources/:id", h.RemoveSource)

			instances.POST("/reactions", h.AddReaction)
			instances.DELETE("/reactions/:id", h.RemoveReaction)

			instances.DELETE("/queries/:id", h.RemoveQuery)
			instances.GET("/queries/:id/results", h.GetQueryResults)
		}

		// default instance, unprefixed, for the common single-instance
		// deployment (spec.md §8 scenario c's flat config form).
		def := v1.Group("")
		{
			def.POST("/start", h.StartInstance)
			def.POST("/stop", h.StopInstance)
			def.GET("/events", h.ListComponentEvents)
			def.GET("/logs", h.ListComponentLogs)

			def.POST("/sources", h.AddSource)
			def.DELETE("/sources/:id", h.RemoveSource)

			def.POST("/reactions", h.AddReaction)
			def.DELETE("/reactions/:id", h.RemoveReaction)

			def.DELETE("/queries/:id", h.RemoveQuery)
			def.GET("/queries/:id/results", h.GetQueryResults)
		}
	}

	return router
}
