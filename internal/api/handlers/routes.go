package handlers

import "github.com/gofiber/fiber/v2"

type Handlers struct {
	Query    *QueryHandler
	Document *DocumentHandler
	Tools    *ToolsHandler
	Sources  *SourcesHandler
	Health   *HealthHandler
	Metrics  fiber.Handler
}

// Register mounts the API routes on r, typically the /api/v1 group.
func Register(r fiber.Router, h Handlers) {
	r.Post("/query", h.Query.HandleQuery)
	r.Post("/classify", h.Query.HandleClassify)

	r.Post("/documents", h.Document.UploadDocument)

	r.Get("/tools", h.Tools.ListTools)
	r.Get("/tools/:id", h.Tools.GetSchema)
	r.Post("/tools/:id/execute", h.Tools.ExecuteTool)

	if h.Sources != nil {
		r.Get("/sources", h.Sources.ListSources)
		r.Get("/sources/:id", h.Sources.GetSource)
	}

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	if h.Metrics != nil {
		r.Get("/metrics", h.Metrics)
	}
}
