package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
	"prayerflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A high priority request is created and later approved. The priority rule
// fires on creation, the approval rule on approval, and each enqueues one
// message per channel the contact can be reached on.
func TestAutomation_CreatedThenApproved(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	p.contacts.Put(testutil.NewTestContact(1))
	req := testutil.NewTestRequest(10, 1, 1, testutil.Epoch.Add(-time.Minute))
	req.Priority = models.PriorityHigh
	req.Status = models.RequestStatusPending
	p.requests.Put(req)

	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{}))
	p.rules.Put(testutil.NewTestRule(2, models.TriggerPriority, `{"priority":["high"]}`, models.ActionConfig{}))

	created, err := p.automation.HandleEvent(ctx, &models.LifecycleEvent{Type: models.EventRequestCreated, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, created.Fired, 1)
	assert.Equal(t, 2, created.Fired[0].RuleID)
	assert.True(t, created.Fired[0].Success)

	req.Status = models.RequestStatusApproved
	p.requests.Put(req)

	approved, err := p.automation.HandleEvent(ctx, &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, approved.Fired, 1)
	assert.Equal(t, 1, approved.Fired[0].RuleID)

	for _, id := range []int{1, 2} {
		rule, err := p.rules.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, rule.Stats.TotalRuns, "rule %d", id)
		assert.Equal(t, 1, rule.Stats.SuccessRuns, "rule %d", id)
		assert.NotNil(t, rule.Stats.LastRun)
	}

	all := p.messages.All()
	require.Len(t, all, 6)
	perRule := map[int]map[models.Channel]int{}
	for _, m := range all {
		require.NotNil(t, m.AutomationRuleID)
		if perRule[*m.AutomationRuleID] == nil {
			perRule[*m.AutomationRuleID] = map[models.Channel]int{}
		}
		perRule[*m.AutomationRuleID][m.MessageType]++
		assert.Equal(t, models.MessageStatusPending, m.Status)
		assert.Equal(t, "Hola María García, Iglesia Central ora por ti.", m.Content.Body)
	}
	expected := map[models.Channel]int{models.ChannelEmail: 1, models.ChannelSMS: 1, models.ChannelWhatsApp: 1}
	assert.Equal(t, expected, perRule[1])
	assert.Equal(t, expected, perRule[2])

	assert.Len(t, p.publisher.Jobs(), 6)
}

// A contact without a phone only gets the email message; the phone channels
// are skipped rather than failing the rule.
func TestAutomation_FanOutSkipsChannelsWithoutData(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	contact := testutil.NewTestContact(1)
	contact.Phone = nil
	p.contacts.Put(contact)
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{MessageType: models.ChannelAll}))

	result, err := p.automation.HandleEvent(ctx, &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)

	outcome := result.Fired[0]
	assert.True(t, outcome.Success)
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, []string{"sms: no contact data", "whatsapp: no contact data"}, outcome.Actions[0].Skipped)

	all := p.messages.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.ChannelEmail, all[0].MessageType)
}

func TestAutomation_ExplicitChannelWithoutDataFailsAction(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	contact := testutil.NewTestContact(1)
	contact.Phone = nil
	p.contacts.Put(contact)
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{MessageType: models.ChannelSMS}))

	result, err := p.automation.HandleEvent(ctx, &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	assert.False(t, result.Fired[0].Success)
	assert.NotEmpty(t, result.Fired[0].Actions[0].Error)
	assert.Empty(t, p.messages.All())

	runs := p.rules.Runs()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
}

func TestAutomation_UnsubscribedContactGetsNothing(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	contact := testutil.NewTestContact(1)
	contact.Status = models.ContactStatusUnsubscribed
	p.contacts.Put(contact)
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{}))

	result, err := p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	assert.False(t, result.Fired[0].Success)
	assert.Empty(t, p.messages.All())
}

func TestAutomation_PreferredOnly(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	contact := testutil.NewTestContact(1)
	contact.PreferredContact = models.ChannelWhatsApp
	p.contacts.Put(contact)
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{PreferredOnly: true}))

	_, err := p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)

	all := p.messages.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.ChannelWhatsApp, all[0].MessageType)
}

func TestAutomation_UnsupportedActionIsLoggedNotFailed(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	rule := testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{MessageType: models.ChannelEmail})
	rule.Actions = append(rule.Actions, models.RuleAction{Type: models.ActionAssignTag, Config: models.ActionConfig{Tag: "seguimiento"}})
	p.rules.Put(rule)

	result, err := p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)

	outcome := result.Fired[0]
	assert.True(t, outcome.Success)
	require.Len(t, outcome.Actions, 2)
	assert.True(t, outcome.Actions[0].Supported)
	assert.False(t, outcome.Actions[1].Supported)
}

func TestAutomation_InactiveAndMalformedRulesDoNotFire(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))

	inactive := testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{})
	inactive.IsActive = false
	p.rules.Put(inactive)
	p.rules.Put(testutil.NewTestRule(2, models.TriggerApproval, `{"status":["archived"]}`, models.ActionConfig{}))
	p.rules.Put(testutil.NewTestRule(3, models.TriggerApproval, `{"category":[1]}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	result, err := p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	assert.Equal(t, 3, result.Fired[0].RuleID)
}

func TestAutomation_HandleEventErrors(t *testing.T) {
	p := newPipeline(t)

	_, err := p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: "deleted", PrayerRequestID: 1})
	var ve *service.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 404})
	var nf *service.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestAutomation_ActionDelayAndTemplateTiming(t *testing.T) {
	hours := 2
	tmpl := defaultTemplate(1)
	tmpl.DeliveryTiming = models.TimingDelayed
	tmpl.DelayHours = &hours
	p := newPipeline(t, tmpl)

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{MessageType: models.ChannelEmail, DelayMinutes: 30}))

	_, err := p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)

	all := p.messages.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.MessageStatusScheduled, all[0].Status)
	assert.Equal(t, testutil.Epoch.Add(2*time.Hour+30*time.Minute), all[0].ScheduledAt)
}

func TestTimeDelaySweep_FiresOncePerRequest(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch.Add(-2*time.Hour)))
	p.requests.Put(testutil.NewTestRequest(11, 1, 1, testutil.Epoch.Add(-30*time.Minute)))
	pending := testutil.NewTestRequest(12, 1, 1, testutil.Epoch.Add(-3*time.Hour))
	pending.Status = models.RequestStatusPending
	p.requests.Put(pending)

	p.rules.Put(testutil.NewTestRule(1, models.TriggerTimeDelay, `{"delay_minutes":60}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	fired, err := p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, p.rules.Fired(1, 10))
	assert.False(t, p.rules.Fired(1, 11))
	assert.False(t, p.rules.Fired(1, 12))

	// second sweep at the same time finds nothing new
	fired, err = p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// request 11 ages past the delay
	p.clock.Advance(time.Hour)
	fired, err = p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	assert.Len(t, p.messages.All(), 2)
	rule, _ := p.rules.GetByID(ctx, 1)
	assert.Equal(t, 2, rule.Stats.TotalRuns)
}

func TestTimeDelaySweep_PagesThroughLargeBacklog(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	p.contacts.Put(testutil.NewTestContact(1))
	for i := 1; i <= 450; i++ {
		p.requests.Put(testutil.NewTestRequest(i, 1, 1, testutil.Epoch.Add(-time.Duration(i)*time.Hour)))
	}
	p.rules.Put(testutil.NewTestRule(1, models.TriggerTimeDelay, `{"delay_minutes":1}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	fired, err := p.automation.RunTimeDelaySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 450, fired)
	assert.Len(t, p.messages.All(), 450)
}

func TestScheduledSweep_RunsOncePerDayInsideWindow(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch.Add(-24*time.Hour)))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerScheduled, `{"schedule_time":"10:30"}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	// 10:00, before the schedule time
	fired, err := p.automation.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	p.clock.Set(testutil.Epoch.Add(35 * time.Minute))
	fired, err = p.automation.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// a new request arrives but the rule already ran today
	p.requests.Put(testutil.NewTestRequest(11, 1, 1, testutil.Epoch.Add(36*time.Minute)))
	p.clock.Set(testutil.Epoch.Add(40 * time.Minute))
	fired, err = p.automation.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// next day, inside the window again
	p.clock.Set(testutil.Epoch.Add(24*time.Hour + 31*time.Minute))
	fired, err = p.automation.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, p.rules.Fired(1, 11))
}

func TestScheduledSweep_SkipsWhenCatchUpWindowMissed(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch.Add(-24*time.Hour)))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerScheduled, `{"schedule_time":"07:00"}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	// 10:00 is three hours past 07:00
	fired, err := p.automation.RunScheduledSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.Empty(t, p.messages.All())
}

func TestTestRule_SampleDataDoesNotTouchStats(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	rule := testutil.NewTestRule(1, models.TriggerPriority, `{"priority":["urgent"]}`, models.ActionConfig{})
	rule.IsActive = false
	p.rules.Put(rule)

	result, err := p.automation.TestRule(ctx, 1, &service.TestRuleRequest{})
	require.NoError(t, err)
	assert.True(t, result.SampleData)
	assert.True(t, result.Matched)
	assert.False(t, result.Sent)
	require.Len(t, result.Actions, 1)
	require.Len(t, result.Actions[0].Messages, 3)
	assert.Equal(t, "Hola María García, Iglesia Central ora por ti.", result.Actions[0].Messages[0].Content.Body)

	assert.Empty(t, p.messages.All())
	assert.Empty(t, p.rules.Runs())
	stored, _ := p.rules.GetByID(ctx, 1)
	assert.Equal(t, 0, stored.Stats.TotalRuns)
}

func TestTestRule_SendRequiresRequest(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{}))

	_, err := p.automation.TestRule(context.Background(), 1, &service.TestRuleRequest{Send: true})
	var ve *service.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = p.automation.TestRule(context.Background(), 99, &service.TestRuleRequest{})
	var nf *service.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestTestRule_SendWithRealRequest(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{MessageType: models.ChannelSMS}))

	id := 10
	result, err := p.automation.TestRule(ctx, 1, &service.TestRuleRequest{PrayerRequestID: &id, Send: true})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.True(t, result.Sent)
	assert.False(t, result.SampleData)

	all := p.messages.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.ChannelSMS, all[0].MessageType)
	assert.Empty(t, p.rules.Runs())
}

func TestTestRule_PendingRequestDoesNotMatchApproval(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	p.contacts.Put(testutil.NewTestContact(1))
	req := testutil.NewTestRequest(10, 1, 1, testutil.Epoch)
	req.Status = models.RequestStatusPending
	p.requests.Put(req)
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{}))

	id := 10
	result, err := p.automation.TestRule(context.Background(), 1, &service.TestRuleRequest{PrayerRequestID: &id})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Empty(t, result.Actions)
}

func TestTimeDelaySweep_ContactLookupFailureIsRetriedNextSweep(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch.Add(-2*time.Hour)))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerTimeDelay, `{"delay_minutes":60}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	p.contacts.GetByIDFunc = func(ctx context.Context, id int) (*models.Contact, error) {
		return nil, errors.New("connection reset by peer")
	}
	fired, err := p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.False(t, p.rules.Fired(1, 10), "marker is released when the request cannot be loaded")
	assert.Empty(t, p.messages.All())

	p.contacts.GetByIDFunc = nil
	fired, err = p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, p.rules.Fired(1, 10))
	assert.Len(t, p.messages.All(), 1)
}

func TestTimeDelaySweep_EnqueueFailureIsRetriedNextSweep(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))
	ctx := context.Background()

	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch.Add(-2*time.Hour)))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerTimeDelay, `{"delay_minutes":60}`, models.ActionConfig{MessageType: models.ChannelEmail}))

	p.messages.CreateFunc = func(ctx context.Context, message *models.QueuedMessage) error {
		return errors.New("database is read-only")
	}
	fired, err := p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.False(t, p.rules.Fired(1, 10))

	p.messages.CreateFunc = nil
	fired, err = p.automation.RunTimeDelaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, p.messages.All(), 1)
}

func TestTimeDelaySweep_PagesPastCandidatesThatDoNotMatch(t *testing.T) {
	p := newPipeline(t, defaultTemplate(1))

	p.contacts.Put(testutil.NewTestContact(1))
	// a full page of pending requests ahead of the one approved request
	for i := 1; i <= 250; i++ {
		req := testutil.NewTestRequest(i, 1, 1, testutil.Epoch.Add(-48*time.Hour))
		req.Status = models.RequestStatusPending
		p.requests.Put(req)
	}
	p.requests.Put(testutil.NewTestRequest(251, 1, 1, testutil.Epoch.Add(-48*time.Hour)))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerTimeDelay,
		`{"delay_minutes":60,"status":["approved","pending"]}`,
		models.ActionConfig{MessageType: models.ChannelEmail}))

	fired, err := p.automation.RunTimeDelaySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.True(t, p.rules.Fired(1, 251))
}

func TestHandleEvent_StoresSchedulesInUTCForLocalZone(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	delayed := testutil.NewTestTemplate(1, models.ChannelEmail, nil, "Hola {nombre}")
	delayed.IsDefault = true
	delayed.DeliveryTiming = models.TimingDelayed
	hours := 1
	delayed.DelayHours = &hours

	scheduled := testutil.NewTestTemplate(2, models.ChannelSMS, nil, "Hola {nombre}")
	scheduled.IsDefault = true
	scheduled.DeliveryTiming = models.TimingScheduled
	at := "09:00"
	scheduled.ScheduledTime = &at

	p := newPipelineIn(t, bogota, delayed, scheduled)
	p.contacts.Put(testutil.NewTestContact(1))
	p.requests.Put(testutil.NewTestRequest(10, 1, 1, testutil.Epoch))
	p.rules.Put(testutil.NewTestRule(1, models.TriggerApproval, `{}`, models.ActionConfig{}))

	_, err = p.automation.HandleEvent(context.Background(), &models.LifecycleEvent{Type: models.EventRequestApproved, PrayerRequestID: 10})
	require.NoError(t, err)

	msgs := p.messages.All()
	require.Len(t, msgs, 2)
	byChannel := map[models.Channel]*models.QueuedMessage{}
	for _, m := range msgs {
		assert.Equal(t, time.UTC, m.ScheduledAt.Location())
		assert.Equal(t, time.UTC, m.CreatedAt.Location())
		byChannel[m.MessageType] = m
	}

	email := byChannel[models.ChannelEmail]
	assert.Equal(t, time.Hour, email.ScheduledAt.Sub(email.CreatedAt))
	assert.Equal(t, testutil.Epoch.Add(time.Hour), email.ScheduledAt)

	// 10:00Z is 05:00 in Bogota, so 09:00 local is today at 14:00Z
	sms := byChannel[models.ChannelSMS]
	assert.Equal(t, time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC), sms.ScheduledAt)
	assert.Equal(t, models.MessageStatusScheduled, sms.Status)
}
