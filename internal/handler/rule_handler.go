package handler

import (
	"net/http"
	"strconv"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
)

// RuleHandler handles HTTP requests for automation rules
type RuleHandler struct {
	ruleService *service.RuleService
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(ruleService *service.RuleService) *RuleHandler {
	return &RuleHandler{ruleService: ruleService}
}

// Create handles POST /automation-rules
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.RuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rule, err := h.ruleService.CreateRule(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, rule)
}

// List handles GET /automation-rules?active=true
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteValidationError(w, "active must be true or false")
			return
		}
		activeOnly = b
	}

	rules, err := h.ruleService.ListRules(r.Context(), activeOnly)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListRulesResponse{Rules: rules})
}

// GetByID handles GET /automation-rules/{id}
func (h *RuleHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "rule")
	if !ok {
		return
	}

	rule, err := h.ruleService.GetRule(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, rule)
}

// Update handles PUT /automation-rules/{id}
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "rule")
	if !ok {
		return
	}

	var req service.RuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rule, err := h.ruleService.UpdateRule(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, rule)
}

// Toggle handles PATCH /automation-rules/{id}/toggle
func (h *RuleHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "rule")
	if !ok {
		return
	}

	var req service.ToggleRuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		WriteValidationError(w, "is_active is required")
		return
	}

	rule, err := h.ruleService.ToggleRule(r.Context(), id, *req.IsActive, req.Version)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, rule)
}

// ListRulesResponse represents the response for listing rules
type ListRulesResponse struct {
	Rules []*models.AutomationRule `json:"rules"`
}
