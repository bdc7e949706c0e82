package service_test

import (
	"testing"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
	"prayerflow/internal/testutil"
)

// pipeline wires an AutomationService to in-memory stores
type pipeline struct {
	clock      *testutil.Clock
	contacts   *testutil.MockContactRepository
	categories *testutil.MockCategoryRepository
	requests   *testutil.MockPrayerRequestRepository
	rules      *testutil.MockRuleRepository
	templates  *testutil.MockTemplateRepository
	messages   *testutil.MessageStore
	publisher  *testutil.MockPublisher
	queue      *service.QueueService
	automation *service.AutomationService
}

func newPipeline(t *testing.T, templates ...*models.ResponseTemplate) *pipeline {
	t.Helper()
	return newPipelineIn(t, time.UTC, templates...)
}

// newPipelineIn is newPipeline with schedules evaluated in loc
func newPipelineIn(t *testing.T, loc *time.Location, templates ...*models.ResponseTemplate) *pipeline {
	t.Helper()

	p := &pipeline{
		clock:      testutil.NewClock(testutil.Epoch),
		contacts:   testutil.NewMockContactRepository(),
		categories: testutil.NewMockCategoryRepository(&models.Category{ID: 1, Name: "Salud"}, &models.Category{ID: 2, Name: "Familia"}),
		rules:      testutil.NewMockRuleRepository(),
		templates:  testutil.NewMockTemplateRepository(templates...),
		messages:   testutil.NewMessageStore(),
		publisher:  &testutil.MockPublisher{},
	}
	p.requests = testutil.NewMockPrayerRequestRepository(p.rules)

	p.queue = service.NewQueueService(p.messages, p.publisher, nil)
	p.queue.SetClock(p.clock.Now)

	p.automation = service.NewAutomationService(
		service.AutomationRepositories{
			Rules:      p.rules,
			Requests:   p.requests,
			Contacts:   p.contacts,
			Categories: p.categories,
			Templates:  p.templates,
		},
		p.queue,
		service.NewTemplateService(nil),
		service.ChurchInfo{Name: "Iglesia Central", Pastor: "Pastor Juan", Contact: "contacto@iglesia.org"},
		loc,
		nil,
	)
	p.automation.SetClock(p.clock.Now)
	return p
}

// defaultTemplate is an active default template usable on every channel
func defaultTemplate(id int) *models.ResponseTemplate {
	tmpl := testutil.NewTestTemplate(id, models.ChannelAll, nil, "Hola {nombre}, {iglesia} ora por ti.")
	tmpl.IsDefault = true
	return tmpl
}

func messagesByChannel(msgs []*models.QueuedMessage) map[models.Channel]int {
	out := map[models.Channel]int{}
	for _, m := range msgs {
		out[m.MessageType]++
	}
	return out
}
