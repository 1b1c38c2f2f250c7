package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medjbersoundous/backend-ramassage-packers/api/controllers"
	"github.com/medjbersoundous/backend-ramassage-packers/api/middleware"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/config"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
)

// RouterParams bundles what the HTTP surface needs.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Pickups      controllers.PickupService
	Changes      controllers.ChangeSubscriber
	PushTokens   controllers.PushTokenStore
	Metrics      http.Handler
	SSEHeartbeat time.Duration
}

func NewRouter(params RouterParams) http.Handler {
	cfg, logg := params.Config, params.Logger
	loc := cfg.Sync.Location()

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    params.DB,
			"redis": params.Redis,
		}, logg))
	})

	metricsHandler := params.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/pickups", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/", controllers.ListPickups(params.Pickups, loc, logg))
		r.Get("/events", controllers.PickupEvents(params.Changes, params.SSEHeartbeat, logg))
		r.Get("/{pickupId}", controllers.GetPickup(params.Pickups, logg))
		r.Patch("/{pickupId}", controllers.UpdatePickup(params.Pickups, logg))
		r.With(middleware.RequireRole(enums.ActorRoleAdmin, logg)).
			Post("/{pickupId}/reassign", controllers.ReassignPickup(params.Pickups, logg))
	})

	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(enums.ActorRoleCollector, logg),
		)

		r.Put("/push-tokens", controllers.RegisterPushTokens(params.PushTokens, logg))
		r.Delete("/push-tokens", controllers.UnregisterPushTokens(params.PushTokens, logg))
	})

	return r
}
