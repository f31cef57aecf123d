package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tshla/previsit-platform/internal/http/handlers"
	httpmiddleware "github.com/tshla/previsit-platform/internal/http/middleware"
	"github.com/tshla/previsit-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Imports           *handlers.ImportHandler
	TelephonyWebhooks *handlers.TelephonyWebhookHandler
	InterviewWebhooks *handlers.InterviewWebhookHandler
	AdminDashboard    *handlers.PrevisitDashboardHandler
	AdminResponses    *handlers.AdminResponsesHandler
	CallStream        *handlers.CallStreamHandler

	AdminAuthSecret    string
	ImportAuthSecret   string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: collaborator webhooks authenticate with HMAC
	// signatures, the import feed with its own JWT.
	r.Group(func(public chi.Router) {
		public.Get("/health", handleHealth)
		if cfg.TelephonyWebhooks != nil {
			public.Post("/webhooks/telephony/status", cfg.TelephonyWebhooks.HandleStatus)
		}
		if cfg.InterviewWebhooks != nil {
			public.Post("/webhooks/interview/completed", cfg.InterviewWebhooks.HandleCompleted)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Imports != nil {
			importSecret := cfg.ImportAuthSecret
			if importSecret == "" {
				importSecret = cfg.AdminAuthSecret
			}
			public.With(httpmiddleware.AdminJWT(importSecret)).
				Post("/imports/appointments", cfg.Imports.HandleImport)
		}
	})

	// Admin routes, JWT-guarded.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AdminDashboard != nil {
				admin.Get("/dashboard/previsit", cfg.AdminDashboard.GetOverview)
			}
			if cfg.AdminResponses != nil {
				admin.Get("/responses/urgent", cfg.AdminResponses.ListUrgent)
				admin.Get("/appointments/{appointmentID}/response", cfg.AdminResponses.GetByAppointment)
				admin.Patch("/appointments/{appointmentID}/response/review", cfg.AdminResponses.Review)
			}
			if cfg.CallStream != nil {
				admin.Get("/calls/stream", cfg.CallStream.ServeHTTP)
			}
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
