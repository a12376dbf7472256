package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/yegors/co-utm/internal/commands"
	"github.com/yegors/co-utm/internal/config"
	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/dashboard"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/simulation"
	"github.com/yegors/co-utm/internal/telemetry"
	"github.com/yegors/co-utm/internal/websocket"
	"github.com/yegors/co-utm/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Services bundles the components the API exposes. Simulation may be nil.
type Services struct {
	Registry   *registry.Store
	Commands   *commands.Tracker
	Telemetry  *telemetry.Service
	Conflicts  *conflict.Detector
	Zones      *conflict.ZoneSet
	Dashboard  *dashboard.Aggregator
	WebSocket  *websocket.Server
	Simulation *simulation.Service
	Metrics    *metrics.Registry
}

// Router represents the API router
type Router struct {
	handler *Handler
	config  *config.Config
	metrics *metrics.Registry
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(services Services, cfg *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(services, logger),
		config:  cfg,
		metrics: services.Metrics,
		logger:  logger.Named("api"),
	}
}

// Routes returns the router with all routes configured
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()
	h := r.handler

	router.Use(MetricsMiddleware(r.metrics, r.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", h.GetHealth)
	router.Handle("/metrics", r.metrics.Handler())
	router.Get("/ws", h.HandleWebSocket)

	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/hubs", func(hubs chi.Router) {
			hubs.Get("/", h.ListHubs)
			hubs.Post("/", h.UpsertHub)
		})

		api.Route("/drones", func(drones chi.Router) {
			drones.Get("/", h.ListDrones)
			drones.Post("/", h.RegisterDrone)
			drones.Get("/{id}", h.GetDrone)
			drones.Delete("/{id}", h.DeleteDrone)
		})

		api.Route("/flights", func(flights chi.Router) {
			flights.Get("/", h.ListFlights)
			flights.Post("/", h.CreateFlight)
			flights.Get("/{id}", h.GetFlight)
			flights.Put("/{id}/status", h.UpdateFlightStatus)
			flights.Get("/{id}/telemetry", h.GetFlightTelemetry)
		})

		api.Post("/telemetry", h.IngestTelemetry)

		api.Route("/commands", func(cmds chi.Router) {
			cmds.Get("/", h.ListCommands)
			cmds.Post("/", h.IssueCommand)
			cmds.Get("/pending/count", h.GetPendingCommandCount)
			cmds.Get("/{id}", h.GetCommand)
			cmds.Put("/{id}/status", h.UpdateCommandStatus)
		})

		api.Get("/conflicts", h.ListConflicts)
		api.Get("/conflicts/{id}", h.GetConflict)
		api.Post("/conflicts/{id}/acknowledge", h.AcknowledgeConflict)

		api.Get("/zones", h.ListZones)
		api.Put("/zones/{id}", h.PutZone)

		api.Get("/dashboard", h.GetDashboard)

		if h.simulation != nil {
			api.Route("/simulation/drones", func(sim chi.Router) {
				sim.Get("/", h.ListSimulatedDrones)
				sim.Post("/", h.CreateSimulatedDrone)
				sim.Put("/{id}", h.UpdateSimulationControls)
				sim.Delete("/{id}", h.RemoveSimulatedDrone)
			})
		}
	})

	return router
}

// ServerTimeouts returns the configured HTTP server timeouts
func (r *Router) ServerTimeouts() (read, write, idle time.Duration) {
	s := r.config.Server
	return time.Duration(s.ReadTimeoutSecs) * time.Second,
		time.Duration(s.WriteTimeoutSecs) * time.Second,
		time.Duration(s.IdleTimeoutSecs) * time.Second
}
