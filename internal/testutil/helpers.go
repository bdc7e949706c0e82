package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prayerflow/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// Epoch is the fixed "now" most tests run at: a Monday, 10:00 UTC
var Epoch = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

// Clock is a settable time source for SetClock
type Clock struct {
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time          { return c.now }
func (c *Clock) Set(t time.Time)         { c.now = t }
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// NewMockDB creates a mock database for testing
func NewMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// NewJSONRequest builds a request with a JSON body
func NewJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// ParseJSONResponse decodes the recorded body into target
func ParseJSONResponse(t *testing.T, resp *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), target), "body: %s", resp.Body.String())
}

// NewTestContact returns a subscribed contact with email and phone
func NewTestContact(id int) *models.Contact {
	return &models.Contact{
		ID:               id,
		FullName:         "María García",
		Email:            StringPtr("maria@example.com"),
		Phone:            StringPtr("+34600000001"),
		PreferredContact: models.ChannelEmail,
		Status:           models.ContactStatusActive,
		CreatedAt:        Epoch.Add(-30 * 24 * time.Hour),
	}
}

// NewTestRequest returns an approved normal-priority request created at createdAt
func NewTestRequest(id, contactID, categoryID int, createdAt time.Time) *models.PrayerRequest {
	return &models.PrayerRequest{
		ID:         id,
		ContactID:  contactID,
		CategoryID: categoryID,
		Priority:   models.PriorityNormal,
		Status:     models.RequestStatusApproved,
		Message:    "Oro por la salud de mi madre.",
		CreatedAt:  createdAt,
	}
}

// NewTestTemplate returns an active immediate template
func NewTestTemplate(id int, channel models.Channel, categoryID *int, content string) *models.ResponseTemplate {
	return &models.ResponseTemplate{
		ID:             id,
		Name:           "Plantilla",
		Content:        content,
		DeliveryTiming: models.TimingImmediate,
		MessageType:    channel,
		CategoryID:     categoryID,
		IsActive:       true,
	}
}

// NewTestRule returns an active rule with one send action
func NewTestRule(id int, trigger models.TriggerType, conditions string, cfg models.ActionConfig) *models.AutomationRule {
	return &models.AutomationRule{
		ID:                id,
		Name:              "Regla de prueba",
		IsActive:          true,
		TriggerType:       trigger,
		TriggerConditions: json.RawMessage(conditions),
		Actions:           []models.RuleAction{{Type: models.ActionSendMessage, Config: cfg}},
		Version:           1,
	}
}

// NewTestMessage returns a pending message due at scheduledAt
func NewTestMessage(contactID int, channel models.Channel, scheduledAt time.Time) *models.QueuedMessage {
	return &models.QueuedMessage{
		PrayerRequestID: 1,
		ContactID:       contactID,
		MessageType:     channel,
		Content:         models.MessageContent{Body: "Estamos orando por ti"},
		Status:          models.MessageStatusPending,
		ScheduledAt:     scheduledAt,
		CreatedAt:       scheduledAt,
	}
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to i
func IntPtr(i int) *int { return &i }
