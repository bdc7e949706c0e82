package handler

import (
	"net/http"
	"strconv"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
)

// MessageHandler handles HTTP requests for the message queue
type MessageHandler struct {
	queueService *service.QueueService
	statsService *service.StatsService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(queueService *service.QueueService, statsService *service.StatsService) *MessageHandler {
	return &MessageHandler{queueService: queueService, statsService: statsService}
}

// List handles GET /message-queue?status=&message_type=&limit=
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter models.MessageFilter

	if statusStr := query.Get("status"); statusStr != "" {
		status, err := models.ParseMessageStatus(statusStr)
		if err != nil {
			WriteValidationError(w, err.Error())
			return
		}
		filter.Status = &status
	}

	if typeStr := query.Get("message_type"); typeStr != "" {
		channel, err := models.ParseChannel(typeStr)
		if err != nil || !channel.IsDelivery() {
			WriteValidationError(w, "invalid message_type: must be one of email, sms, whatsapp")
			return
		}
		filter.MessageType = &channel
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			WriteValidationError(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	messages, err := h.queueService.ListMessages(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListMessagesResponse{Messages: messages})
}

// Retry handles POST /message-queue/{id}/retry
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "message")
	if !ok {
		return
	}

	message, err := h.queueService.RetryMessage(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, message)
}

// Cancel handles POST /message-queue/{id}/cancel
func (h *MessageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "message")
	if !ok {
		return
	}

	message, err := h.queueService.CancelMessage(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, message)
}

// Confirm handles POST /message-queue/{id}/confirmation
func (h *MessageHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "message")
	if !ok {
		return
	}

	var req ConfirmationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	message, err := h.queueService.RecordConfirmation(r.Context(), id, req.ReadAt, req.ResponseReceived)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, message)
}

// Stats handles GET /message-queue/stats
func (h *MessageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsService.GetQueueStats(r.Context())
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, stats)
}

// Request/Response types

// ListMessagesResponse represents the response for listing queued messages
type ListMessagesResponse struct {
	Messages []*models.QueuedMessage `json:"messages"`
}

// ConfirmationRequest carries delivery feedback from a channel
type ConfirmationRequest struct {
	ReadAt           *time.Time `json:"read_at,omitempty"`
	ResponseReceived *time.Time `json:"response_received,omitempty"`
}
