// Package rest wires the HTTP router: middleware chain, CORS, health and
// metrics endpoints, and the API routes over GraphService.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"prism-backend/application/services"
	"prism-backend/interfaces/http/rest/handlers"
	"prism-backend/interfaces/http/rest/middleware"
	"prism-backend/pkg/observability"
)

// Router creates and configures the HTTP router.
type Router struct {
	service        *services.GraphService
	logger         *zap.Logger
	metrics        *observability.Collector
	defaultUser    string
	allowedOrigins []string
}

// NewRouter creates a router over the graph service. defaultUser covers
// single-user deployments where the front end sends no X-User-ID header.
func NewRouter(service *services.GraphService, logger *zap.Logger, metrics *observability.Collector, defaultUser string, allowedOrigins []string) *Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Router{
		service:        service,
		logger:         logger,
		metrics:        metrics,
		defaultUser:    defaultUser,
		allowedOrigins: allowedOrigins,
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ActiveUser(rt.defaultUser))

		graphHandler := handlers.NewGraphHandler(rt.service, rt.logger)
		r.Get("/graph", graphHandler.GetGraph)
		r.Get("/users", graphHandler.ListUsers)
		r.Post("/maintenance/reclaim-orphans", graphHandler.ReclaimOrphans)

		nodeHandler := handlers.NewNodeHandler(rt.service, rt.logger)
		voteHandler := handlers.NewVoteHandler(rt.service, rt.logger)
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", nodeHandler.CreateNode)
			r.Patch("/{nodeID}", nodeHandler.UpdateNode)
			r.Delete("/{nodeID}", nodeHandler.DeleteNode)
			r.Get("/{nodeID}/external-users", nodeHandler.ExternalUsers)
			r.Get("/{nodeID}/permission", nodeHandler.CheckPermission)
			r.Put("/{nodeID}/vote", voteHandler.SetVote)
			r.Delete("/{nodeID}/vote", voteHandler.RemoveVote)
		})

		topologyHandler := handlers.NewTopologyHandler(rt.service, rt.logger)
		r.Route("/topology", func(r chi.Router) {
			r.Post("/intermediary", topologyHandler.CreateIntermediary)
			r.Post("/make-intermediary", topologyHandler.MakeIntermediary)
			r.Post("/connect", topologyHandler.Connect)
			r.Post("/disconnect", topologyHandler.Disconnect)
		})

		syncHandler := handlers.NewSyncHandler(rt.service, rt.logger)
		r.Post("/sync", syncHandler.Sync)
		r.Post("/push", syncHandler.Push)
		r.Get("/sync/status", syncHandler.Status)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
