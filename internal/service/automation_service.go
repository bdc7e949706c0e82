package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prayerflow/internal/metrics"
	"prayerflow/internal/models"
	"prayerflow/internal/repository"
	"prayerflow/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	sweepBatchSize   = 200
	scheduledCatchUp = time.Hour
)

// ChurchInfo holds the church-wide values templates can reference
type ChurchInfo struct {
	Name    string
	Pastor  string
	Contact string
}

// AutomationRepositories groups the stores the automation pipeline reads and writes
type AutomationRepositories struct {
	Rules      repository.RuleRepository
	Requests   repository.PrayerRequestRepository
	Contacts   repository.ContactRepository
	Categories repository.CategoryRepository
	Templates  repository.TemplateRepository
}

// AutomationService runs the match, select, render and enqueue pipeline
type AutomationService struct {
	repos    AutomationRepositories
	queue    *QueueService
	matcher  *RuleMatcher
	renderer *TemplateService
	church   ChurchInfo
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	lastSweptDay map[int]string
}

// NewAutomationService creates a new automation service
func NewAutomationService(
	repos AutomationRepositories,
	queue *QueueService,
	renderer *TemplateService,
	church ChurchInfo,
	location *time.Location,
	logger *zap.Logger,
) *AutomationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.Local
	}
	return &AutomationService{
		repos:        repos,
		queue:        queue,
		matcher:      NewRuleMatcher(),
		renderer:     renderer,
		church:       church,
		location:     location,
		logger:       logger,
		now:          time.Now,
		lastSweptDay: make(map[int]string),
	}
}

// SetClock overrides the time source (for testing)
func (s *AutomationService) SetClock(now func() time.Time) {
	s.now = now
}

// ActionOutcome reports what one rule action produced
type ActionOutcome struct {
	Index     int                     `json:"index"`
	Type      models.ActionType       `json:"type"`
	Supported bool                    `json:"supported"`
	Messages  []*models.QueuedMessage `json:"messages"`
	Skipped   []string                `json:"skipped,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// RuleOutcome reports one rule firing
type RuleOutcome struct {
	RuleID   int             `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	Success  bool            `json:"success"`
	Actions  []ActionOutcome `json:"actions"`
}

// EventResult is returned after a lifecycle event is processed
type EventResult struct {
	EventType       models.EventType `json:"event_type"`
	PrayerRequestID int              `json:"prayer_request_id"`
	Fired           []RuleOutcome    `json:"fired"`
}

// pipelineContext is everything needed to plan messages for one request
type pipelineContext struct {
	request   *models.PrayerRequest
	contact   *models.Contact
	templates []*models.ResponseTemplate
	render    RenderContext
	now       time.Time
}

// HandleEvent evaluates the synchronous triggers for a lifecycle event and
// enqueues the resulting messages
func (s *AutomationService) HandleEvent(ctx context.Context, event *models.LifecycleEvent) (*EventResult, error) {
	if err := event.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	ctx, span := tracing.StartSpan(ctx, "automation.HandleEvent",
		attribute.String("event.type", string(event.Type)),
		attribute.Int("prayer_request.id", event.PrayerRequestID),
	)
	defer span.End()

	result := &EventResult{EventType: event.Type, PrayerRequestID: event.PrayerRequestID, Fired: []RuleOutcome{}}

	req, err := s.repos.Requests.GetByID(ctx, event.PrayerRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "prayer request", ID: event.PrayerRequestID}
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to load prayer request: %w", err)
	}

	kind := MatchKind(event.Type)
	rules, err := s.repos.Rules.ListActiveByTrigger(ctx, kind.TriggerTypes()...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	now := s.now().In(s.location)
	intents, ruleErrs := s.matcher.Evaluate(kind, req, rules, now)
	s.logRuleErrors(ruleErrs)
	if len(intents) == 0 {
		return result, nil
	}

	pc, err := s.loadContext(ctx, req, now)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	for _, intent := range intents {
		outcome, _ := s.fire(ctx, intent, pc)
		result.Fired = append(result.Fired, outcome)
	}
	return result, nil
}

func (s *AutomationService) logRuleErrors(errs []RuleError) {
	for _, e := range errs {
		s.logger.Warn("Skipping rule with malformed conditions", zap.Int("rule_id", e.RuleID), zap.Error(e.Err))
	}
}

// loadContext reads the contact, category and templates a request needs
func (s *AutomationService) loadContext(ctx context.Context, req *models.PrayerRequest, now time.Time) (*pipelineContext, error) {
	contact, err := s.repos.Contacts.GetByID(ctx, req.ContactID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "contact", ID: req.ContactID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}

	categoryName := ""
	category, err := s.repos.Categories.GetByID(ctx, req.CategoryID)
	switch {
	case err == nil:
		categoryName = category.Name
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Prayer request has unknown category",
			zap.Int("prayer_request_id", req.ID),
			zap.Int("category_id", req.CategoryID),
		)
	default:
		return nil, fmt.Errorf("failed to load category: %w", err)
	}

	templates, err := s.repos.Templates.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &pipelineContext{
		request:   req,
		contact:   contact,
		templates: templates,
		render:    s.renderContext(contact.DisplayName(), categoryName, req.Message, now),
		now:       now,
	}, nil
}

func (s *AutomationService) renderContext(contactName, categoryName, requestText string, now time.Time) RenderContext {
	return RenderContext{
		ContactName:   contactName,
		ChurchName:    s.church.Name,
		CategoryName:  categoryName,
		PastorName:    s.church.Pastor,
		RequestText:   requestText,
		ChurchContact: s.church.Contact,
		Date:          now,
	}
}

// fire plans and enqueues every action of a matched rule, then records the
// run on the rule's stats. enqueueFailed is true when a message could not be
// stored and nothing else was.
func (s *AutomationService) fire(ctx context.Context, intent FireIntent, pc *pipelineContext) (outcome RuleOutcome, enqueueFailed bool) {
	rule := intent.Rule
	ctx, span := tracing.StartSpan(ctx, "automation.fire",
		attribute.Int("rule.id", rule.ID),
		attribute.String("rule.trigger", string(rule.TriggerType)),
	)
	defer span.End()

	outcome = RuleOutcome{RuleID: rule.ID, RuleName: rule.Name, Success: true}
	stored, saveErrs := 0, 0
	for _, action := range s.planActions(rule, pc) {
		if action.Type == models.ActionSendMessage && action.Error == "" {
			saved := action.Messages[:0]
			for _, msg := range action.Messages {
				if err := s.queue.Save(ctx, msg); err != nil {
					s.logger.Error("Failed to enqueue message",
						zap.Int("rule_id", rule.ID),
						zap.Int("prayer_request_id", pc.request.ID),
						zap.Error(err),
					)
					action.Error = err.Error()
					saveErrs++
					continue
				}
				saved = append(saved, msg)
				stored++
			}
			action.Messages = saved
		}
		if action.Type == models.ActionSendMessage && (action.Error != "" || len(action.Messages) == 0) {
			outcome.Success = false
		}
		outcome.Actions = append(outcome.Actions, action)
	}

	responseSeconds := intent.EvaluatedAt.Sub(pc.request.CreatedAt).Seconds()
	if responseSeconds < 0 {
		responseSeconds = 0
	}
	if err := s.repos.Rules.RecordRun(ctx, rule.ID, outcome.Success, intent.EvaluatedAt.UTC(), responseSeconds); err != nil {
		tracing.RecordError(span, err)
		s.logger.Error("Failed to record rule run", zap.Int("rule_id", rule.ID), zap.Error(err))
	}

	result := "success"
	if !outcome.Success {
		result = "partial"
	}
	metrics.RecordRuleFiring(string(rule.TriggerType), result)
	s.logger.Info("Rule fired",
		zap.Int("rule_id", rule.ID),
		zap.Int("prayer_request_id", pc.request.ID),
		zap.Bool("success", outcome.Success),
	)
	return outcome, saveErrs > 0 && stored == 0
}

// planActions builds the unsaved messages for every action of the rule
func (s *AutomationService) planActions(rule *models.AutomationRule, pc *pipelineContext) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(rule.Actions))
	for i, action := range rule.Actions {
		out := ActionOutcome{Index: i, Type: action.Type, Messages: []*models.QueuedMessage{}}
		if action.Type != models.ActionSendMessage {
			s.logger.Info("Action type not executed by the messaging engine",
				zap.Int("rule_id", rule.ID),
				zap.String("action_type", string(action.Type)),
			)
			outcomes = append(outcomes, out)
			continue
		}

		out.Supported = true
		messages, skipped, err := s.planSend(rule.ID, action.Config, pc)
		out.Messages = messages
		out.Skipped = skipped
		if err != nil {
			s.logger.Warn("Send action could not be planned",
				zap.Int("rule_id", rule.ID),
				zap.Int("prayer_request_id", pc.request.ID),
				zap.Error(err),
			)
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// channelsFor resolves the channels a send action targets. A fan-out to
// "all" keeps only the channels the contact has data for and reports the
// rest as missing; a single-channel action without contact data is invalid.
func channelsFor(cfg models.ActionConfig, contact *models.Contact) (channels, missing []models.Channel, err error) {
	target := cfg.MessageType
	if target == "" {
		target = models.ChannelAll
	}

	var single models.Channel
	switch {
	case cfg.PreferredOnly:
		single = contact.PreferredContact
		if !single.IsDelivery() || !target.Covers(single) {
			return nil, nil, &ValidationError{Message: fmt.Sprintf("preferred channel %q not allowed by action type %q", single, target)}
		}
	case target == models.ChannelAll:
		channels = contact.UsableChannels()
		for _, ch := range models.DeliveryChannels {
			if _, ok := contact.Destination(ch); !ok {
				missing = append(missing, ch)
			}
		}
		return channels, missing, nil
	default:
		single = target
	}

	if _, ok := contact.Destination(single); !ok {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("contact %d has no data for %s", contact.ID, single)}
	}
	return []models.Channel{single}, nil, nil
}

func (s *AutomationService) planSend(ruleID int, cfg models.ActionConfig, pc *pipelineContext) ([]*models.QueuedMessage, []string, error) {
	contact := pc.contact
	if !contact.IsReachable() {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("contact %d is unsubscribed", contact.ID)}
	}

	channels, missing, err := channelsFor(cfg, contact)
	if err != nil {
		return nil, nil, err
	}

	var (
		messages []*models.QueuedMessage
		skipped  []string
	)
	for _, channel := range missing {
		s.logger.Info("Skipping channel without contact data",
			zap.Int("rule_id", ruleID),
			zap.Int("contact_id", contact.ID),
			zap.String("channel", string(channel)),
		)
		skipped = append(skipped, fmt.Sprintf("%s: no contact data", channel))
	}
	if len(channels) == 0 {
		return nil, skipped, &ValidationError{Message: fmt.Sprintf("contact %d has no usable channel", contact.ID)}
	}

	for _, channel := range channels {
		tmpl := s.renderer.Select(pc.templates, cfg.TemplateID, pc.request.CategoryID, channel)
		if tmpl == nil {
			s.logger.Warn("No template for channel, skipping",
				zap.Int("rule_id", ruleID),
				zap.Int("category_id", pc.request.CategoryID),
				zap.String("channel", string(channel)),
			)
			skipped = append(skipped, fmt.Sprintf("%s: no template", channel))
			continue
		}

		scheduledAt, err := ScheduledAt(tmpl, pc.now, cfg.DelayMinutes)
		if err != nil {
			s.logger.Warn("Template has invalid timing, skipping", zap.Int("template_id", tmpl.ID), zap.Error(err))
			skipped = append(skipped, fmt.Sprintf("%s: %v", channel, err))
			continue
		}

		ruleRef, templateRef := ruleID, tmpl.ID
		msg, err := s.queue.Build(EnqueueRequest{
			PrayerRequestID: pc.request.ID,
			Contact:         contact,
			Channel:         channel,
			Content:         s.renderer.Render(tmpl, pc.render),
			ScheduledAt:     scheduledAt,
			RuleID:          &ruleRef,
			TemplateID:      &templateRef,
		})
		if err != nil {
			return nil, skipped, err
		}
		messages = append(messages, msg)
	}
	return messages, skipped, nil
}

// RunTimeDelaySweep fires time_delay rules for approved requests that have
// aged past the rule's delay. Each (rule, request) pair fires at most once.
func (s *AutomationService) RunTimeDelaySweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordSweep("time_delay", time.Since(start)) }()

	rules, err := s.repos.Rules.ListActiveByTrigger(ctx, models.TriggerTimeDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to load time_delay rules: %w", err)
	}

	now := s.now().In(s.location)
	fired := 0
	for _, rule := range rules {
		trigger, err := rule.Trigger()
		if err != nil {
			s.logRuleErrors([]RuleError{{RuleID: rule.ID, Err: err}})
			continue
		}
		delay := trigger.(models.TimeDelayTrigger)

		filter := delay.Conditions
		if len(filter.Statuses) == 0 {
			filter.Statuses = []models.RequestStatus{models.RequestStatusApproved}
		}
		n, err := s.sweepRule(ctx, MatchTimeDelaySweep, rule, filter, now.Add(-delay.Delay), now)
		fired += n
		if err != nil {
			return fired, err
		}
	}
	return fired, nil
}

// RunScheduledSweep fires scheduled rules whose time of day has come and that
// have not been swept yet today
func (s *AutomationService) RunScheduledSweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordSweep("scheduled", time.Since(start)) }()

	rules, err := s.repos.Rules.ListActiveByTrigger(ctx, models.TriggerScheduled)
	if err != nil {
		return 0, fmt.Errorf("failed to load scheduled rules: %w", err)
	}

	now := s.now().In(s.location)
	today := now.Format("2006-01-02")
	fired := 0
	for _, rule := range rules {
		trigger, err := rule.Trigger()
		if err != nil {
			s.logRuleErrors([]RuleError{{RuleID: rule.ID, Err: err}})
			continue
		}
		scheduled := trigger.(models.ScheduledTrigger)

		due := scheduled.At.On(now)
		if now.Before(due) || now.Sub(due) > scheduledCatchUp || s.sweptOn(rule.ID) == today {
			continue
		}

		n, err := s.sweepRule(ctx, MatchScheduledSweep, rule, scheduled.Conditions, now, now)
		fired += n
		if err != nil {
			return fired, err
		}
		s.markSwept(rule.ID, today)
	}
	return fired, nil
}

func (s *AutomationService) sweptOn(ruleID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweptDay[ruleID]
}

func (s *AutomationService) markSwept(ruleID int, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSweptDay[ruleID] = day
}

// sweepRule pages through unfired candidates for one rule. A candidate is
// claimed through its fired marker before anything is enqueued; the marker is
// removed again when the request could not be loaded or nothing was stored,
// so the next sweep retries it.
func (s *AutomationService) sweepRule(ctx context.Context, kind MatchKind, rule *models.AutomationRule, filter models.ConditionFilter, createdBefore, now time.Time) (int, error) {
	fired := 0
	afterID := 0
	for {
		if err := ctx.Err(); err != nil {
			return fired, err
		}

		candidates, err := s.repos.Requests.ListUnfired(ctx, rule.ID, filter, createdBefore.UTC(), afterID, sweepBatchSize)
		if err != nil {
			return fired, fmt.Errorf("failed to list candidates for rule %d: %w", rule.ID, err)
		}

		for _, req := range candidates {
			afterID = req.ID

			intents, _ := s.matcher.Evaluate(kind, req, []*models.AutomationRule{rule}, now)
			if len(intents) == 0 {
				continue
			}

			claimed, err := s.repos.Rules.MarkFired(ctx, rule.ID, req.ID, now.UTC())
			if err != nil {
				return fired, err
			}
			if !claimed {
				continue
			}

			pc, err := s.loadContext(ctx, req, now)
			if err != nil {
				s.logger.Error("Failed to load request context",
					zap.Int("rule_id", rule.ID),
					zap.Int("prayer_request_id", req.ID),
					zap.Error(err),
				)
				s.releaseFiring(ctx, rule.ID, req.ID)
				continue
			}
			if _, enqueueFailed := s.fire(ctx, intents[0], pc); enqueueFailed {
				s.releaseFiring(ctx, rule.ID, req.ID)
				continue
			}
			fired++
		}

		if len(candidates) < sweepBatchSize {
			return fired, nil
		}
	}
}

func (s *AutomationService) releaseFiring(ctx context.Context, ruleID, requestID int) {
	if err := s.repos.Rules.UnmarkFired(context.WithoutCancel(ctx), ruleID, requestID); err != nil {
		s.logger.Error("Failed to release firing marker",
			zap.Int("rule_id", ruleID),
			zap.Int("prayer_request_id", requestID),
			zap.Error(err),
		)
	}
}

// TestRuleRequest is the input of a dry run
type TestRuleRequest struct {
	PrayerRequestID *int `json:"prayer_request_id,omitempty"`
	Send            bool `json:"send"`
}

// TestRuleResult is the outcome of a dry run
type TestRuleResult struct {
	RuleID     int             `json:"rule_id"`
	Matched    bool            `json:"matched"`
	SampleData bool            `json:"sample_data"`
	Sent       bool            `json:"sent"`
	Actions    []ActionOutcome `json:"actions"`
}

// TestRule runs one rule through matching and rendering regardless of its
// active flag. Stats are never touched. Messages are enqueued only when
// req.Send is set.
func (s *AutomationService) TestRule(ctx context.Context, ruleID int, req *TestRuleRequest) (*TestRuleResult, error) {
	rule, err := s.repos.Rules.GetByID(ctx, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "automation rule", ID: ruleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}

	trigger, err := rule.Trigger()
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("rule %d has malformed conditions: %v", ruleID, err)}
	}

	if req.Send && req.PrayerRequestID == nil {
		return nil, &ValidationError{Message: "send requires prayer_request_id"}
	}

	now := s.now().In(s.location)
	result := &TestRuleResult{RuleID: ruleID, Actions: []ActionOutcome{}}

	var pc *pipelineContext
	if req.PrayerRequestID != nil {
		prayer, err := s.repos.Requests.GetByID(ctx, *req.PrayerRequestID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "prayer request", ID: *req.PrayerRequestID}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load prayer request: %w", err)
		}
		if pc, err = s.loadContext(ctx, prayer, now); err != nil {
			return nil, err
		}
	} else {
		templates, err := s.repos.Templates.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		pc = s.sampleContext(trigger, templates, now)
		result.SampleData = true
	}

	result.Matched = s.matcher.MatchesConditions(trigger, pc.request)
	if !result.Matched {
		return result, nil
	}

	result.Actions = s.planActions(rule, pc)
	if !req.Send {
		return result, nil
	}

	for i := range result.Actions {
		action := &result.Actions[i]
		for _, msg := range action.Messages {
			if err := s.queue.Save(ctx, msg); err != nil {
				return nil, err
			}
		}
	}
	result.Sent = true
	return result, nil
}

// sampleContext builds preview data shaped to satisfy the trigger's filters
func (s *AutomationService) sampleContext(trigger models.Trigger, templates []*models.ResponseTemplate, now time.Time) *pipelineContext {
	filter := trigger.Filter()

	req := &models.PrayerRequest{
		ID:         0,
		ContactID:  0,
		CategoryID: 0,
		Priority:   models.PriorityNormal,
		Status:     models.RequestStatusApproved,
		Message:    "Oro por la salud de mi madre que está enferma.",
		CreatedAt:  now,
	}
	if len(filter.Statuses) > 0 {
		req.Status = filter.Statuses[0]
	}
	if len(filter.Priorities) > 0 {
		req.Priority = filter.Priorities[0]
	}
	if len(filter.Categories) > 0 {
		req.CategoryID = filter.Categories[0]
	}

	email := "maria.garcia@example.com"
	phone := "+34600000000"
	contact := &models.Contact{
		FullName:         "María García",
		Email:            &email,
		Phone:            &phone,
		PreferredContact: models.ChannelEmail,
		Status:           models.ContactStatusActive,
	}

	return &pipelineContext{
		request:   req,
		contact:   contact,
		templates: templates,
		render:    s.renderContext(contact.FullName, "Familia", req.Message, now),
		now:       now,
	}
}
