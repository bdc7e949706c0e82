package handler

import (
	"net/http"

	"prayerflow/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers groups every HTTP handler the API serves
type Handlers struct {
	Health   *HealthHandler
	Rules    *RuleHandler
	Preview  *PreviewHandler
	Messages *MessageHandler
	Events   *EventHandler
}

// NewRouter registers all routes and wraps them in the standard middleware
func NewRouter(h Handlers, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger), middleware.Logging(logger), middleware.Metrics)

	router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/automation/events", h.Events.Handle).Methods(http.MethodPost)

	router.HandleFunc("/automation-rules", h.Rules.List).Methods(http.MethodGet)
	router.HandleFunc("/automation-rules", h.Rules.Create).Methods(http.MethodPost)
	router.HandleFunc("/automation-rules/{id}", h.Rules.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/automation-rules/{id}", h.Rules.Update).Methods(http.MethodPut)
	router.HandleFunc("/automation-rules/{id}/toggle", h.Rules.Toggle).Methods(http.MethodPatch)
	router.HandleFunc("/automation-rules/{id}/test", h.Preview.TestRule).Methods(http.MethodPost)

	router.HandleFunc("/message-queue/stats", h.Messages.Stats).Methods(http.MethodGet)
	router.HandleFunc("/message-queue", h.Messages.List).Methods(http.MethodGet)
	router.HandleFunc("/message-queue/{id}/retry", h.Messages.Retry).Methods(http.MethodPost)
	router.HandleFunc("/message-queue/{id}/cancel", h.Messages.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/message-queue/{id}/confirmation", h.Messages.Confirm).Methods(http.MethodPost)

	return router
}
