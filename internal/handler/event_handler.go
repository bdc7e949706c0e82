package handler

import (
	"net/http"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
)

// EventHandler accepts prayer request lifecycle events over HTTP
type EventHandler struct {
	automationService *service.AutomationService
}

// NewEventHandler creates a new event handler
func NewEventHandler(automationService *service.AutomationService) *EventHandler {
	return &EventHandler{automationService: automationService}
}

// Handle handles POST /automation/events
func (h *EventHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var event models.LifecycleEvent
	if !DecodeJSON(w, r, &event) {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	result, err := h.automationService.HandleEvent(r.Context(), &event)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, result)
}
