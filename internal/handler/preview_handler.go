package handler

import (
	"net/http"

	"prayerflow/internal/service"
)

// PreviewHandler runs rules in dry-run mode
type PreviewHandler struct {
	automationService *service.AutomationService
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(automationService *service.AutomationService) *PreviewHandler {
	return &PreviewHandler{automationService: automationService}
}

// TestRule handles POST /automation-rules/{id}/test
// An empty body previews the rule against sample data.
func (h *PreviewHandler) TestRule(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "rule")
	if !ok {
		return
	}

	var req service.TestRuleRequest
	if r.ContentLength != 0 {
		if !DecodeJSON(w, r, &req) {
			return
		}
	}
	if req.PrayerRequestID != nil && *req.PrayerRequestID <= 0 {
		WriteValidationError(w, "prayer_request_id must be positive")
		return
	}

	result, err := h.automationService.TestRule(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, result)
}
