package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/repository"
	"prayerflow/internal/service"
)

// calls counts method invocations; safe for concurrent use
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *calls) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

// Count returns how many times the named method was called
func (c *calls) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

// MockContactRepository is an in-memory ContactRepository
type MockContactRepository struct {
	calls
	mu       sync.Mutex
	contacts map[int]*models.Contact

	GetByIDFunc func(ctx context.Context, id int) (*models.Contact, error)
}

func NewMockContactRepository(contacts ...*models.Contact) *MockContactRepository {
	m := &MockContactRepository{contacts: make(map[int]*models.Contact)}
	for _, c := range contacts {
		m.Put(c)
	}
	return m
}

// Put adds or replaces a contact
func (m *MockContactRepository) Put(c *models.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contacts[c.ID] = &cp
}

func (m *MockContactRepository) GetByID(ctx context.Context, id int) (*models.Contact, error) {
	m.inc("GetByID")
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// MockCategoryRepository is an in-memory CategoryRepository
type MockCategoryRepository struct {
	calls
	categories map[int]*models.Category
}

func NewMockCategoryRepository(categories ...*models.Category) *MockCategoryRepository {
	m := &MockCategoryRepository{categories: make(map[int]*models.Category)}
	for _, c := range categories {
		m.categories[c.ID] = c
	}
	return m
}

func (m *MockCategoryRepository) GetByID(ctx context.Context, id int) (*models.Category, error) {
	m.inc("GetByID")
	c, ok := m.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// MockPrayerRequestRepository is an in-memory PrayerRequestRepository. It
// consults rules for firing markers.
type MockPrayerRequestRepository struct {
	calls
	mu       sync.Mutex
	requests map[int]*models.PrayerRequest
	rules    *MockRuleRepository
}

func NewMockPrayerRequestRepository(rules *MockRuleRepository, requests ...*models.PrayerRequest) *MockPrayerRequestRepository {
	m := &MockPrayerRequestRepository{requests: make(map[int]*models.PrayerRequest), rules: rules}
	for _, r := range requests {
		m.Put(r)
	}
	return m
}

// Put adds or replaces a request
func (m *MockPrayerRequestRepository) Put(r *models.PrayerRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
}

func (m *MockPrayerRequestRepository) GetByID(ctx context.Context, id int) (*models.PrayerRequest, error) {
	m.inc("GetByID")
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("prayer request %d: %w", id, repository.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *MockPrayerRequestRepository) ListUnfired(ctx context.Context, ruleID int, filter models.ConditionFilter, createdBefore time.Time, afterID, limit int) ([]*models.PrayerRequest, error) {
	m.inc("ListUnfired")
	m.mu.Lock()
	var out []*models.PrayerRequest
	for _, r := range m.requests {
		if r.ID <= afterID || r.CreatedAt.After(createdBefore) || !filter.Matches(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	m.mu.Unlock()

	if m.rules != nil {
		kept := out[:0]
		for _, r := range out {
			if !m.rules.Fired(ruleID, r.ID) {
				kept = append(kept, r)
			}
		}
		out = kept
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunRecord is one RecordRun call
type RunRecord struct {
	RuleID          int
	Success         bool
	RanAt           time.Time
	ResponseSeconds float64
}

// MockRuleRepository is an in-memory RuleRepository with version checks
type MockRuleRepository struct {
	calls
	mu      sync.Mutex
	rules   map[int]*models.AutomationRule
	nextID  int
	firings map[[2]int]time.Time
	runs    []RunRecord

	ListActiveByTriggerFunc func(ctx context.Context, types ...models.TriggerType) ([]*models.AutomationRule, error)
}

func NewMockRuleRepository(rules ...*models.AutomationRule) *MockRuleRepository {
	m := &MockRuleRepository{
		rules:   make(map[int]*models.AutomationRule),
		firings: make(map[[2]int]time.Time),
	}
	for _, r := range rules {
		m.Put(r)
	}
	return m
}

// Put adds or replaces a rule as-is
func (m *MockRuleRepository) Put(r *models.AutomationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.rules[r.ID] = &cp
	if r.ID > m.nextID {
		m.nextID = r.ID
	}
}

// Runs returns the recorded RecordRun calls
func (m *MockRuleRepository) Runs() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.runs...)
}

// Fired reports whether a firing marker exists
func (m *MockRuleRepository) Fired(ruleID, requestID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.firings[[2]int{ruleID, requestID}]
	return ok
}

func (m *MockRuleRepository) Create(ctx context.Context, rule *models.AutomationRule) error {
	m.inc("Create")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rule.ID = m.nextID
	rule.Version = 1
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MockRuleRepository) GetByID(ctx context.Context, id int) (*models.AutomationRule, error) {
	m.inc("GetByID")
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, repository.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *MockRuleRepository) List(ctx context.Context, activeOnly bool) ([]*models.AutomationRule, error) {
	m.inc("List")
	return m.filter(func(r *models.AutomationRule) bool { return !activeOnly || r.IsActive }), nil
}

func (m *MockRuleRepository) ListActiveByTrigger(ctx context.Context, types ...models.TriggerType) ([]*models.AutomationRule, error) {
	m.inc("ListActiveByTrigger")
	if m.ListActiveByTriggerFunc != nil {
		return m.ListActiveByTriggerFunc(ctx, types...)
	}
	return m.filter(func(r *models.AutomationRule) bool {
		if !r.IsActive {
			return false
		}
		for _, t := range types {
			if r.TriggerType == t {
				return true
			}
		}
		return false
	}), nil
}

func (m *MockRuleRepository) filter(keep func(*models.AutomationRule) bool) []*models.AutomationRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.AutomationRule{}
	for _, r := range m.rules {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockRuleRepository) Update(ctx context.Context, rule *models.AutomationRule) error {
	m.inc("Update")
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rules[rule.ID]
	if !ok {
		return fmt.Errorf("rule %d: %w", rule.ID, repository.ErrNotFound)
	}
	if cur.Version != rule.Version {
		return fmt.Errorf("rule %d: %w", rule.ID, repository.ErrVersionConflict)
	}
	rule.Version++
	rule.Stats = cur.Stats
	rule.CreatedAt = cur.CreatedAt
	rule.UpdatedAt = time.Now()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MockRuleRepository) SetActive(ctx context.Context, id int, isActive bool, version int) (int, error) {
	m.inc("SetActive")
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rules[id]
	if !ok {
		return 0, fmt.Errorf("rule %d: %w", id, repository.ErrNotFound)
	}
	if cur.Version != version {
		return 0, fmt.Errorf("rule %d: %w", id, repository.ErrVersionConflict)
	}
	cur.IsActive = isActive
	cur.Version++
	return cur.Version, nil
}

func (m *MockRuleRepository) RecordRun(ctx context.Context, ruleID int, success bool, ranAt time.Time, responseSeconds float64) error {
	m.inc("RecordRun")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, RunRecord{RuleID: ruleID, Success: success, RanAt: ranAt, ResponseSeconds: responseSeconds})
	r, ok := m.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %d: %w", ruleID, repository.ErrNotFound)
	}
	s := &r.Stats
	s.AvgResponseTime = (s.AvgResponseTime*float64(s.TotalRuns) + responseSeconds) / float64(s.TotalRuns+1)
	s.TotalRuns++
	if success {
		s.SuccessRuns++
	}
	at := ranAt
	s.LastRun = &at
	return nil
}

func (m *MockRuleRepository) MarkFired(ctx context.Context, ruleID, prayerRequestID int, firedAt time.Time) (bool, error) {
	m.inc("MarkFired")
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int{ruleID, prayerRequestID}
	if _, ok := m.firings[key]; ok {
		return false, nil
	}
	m.firings[key] = firedAt
	return true, nil
}

func (m *MockRuleRepository) UnmarkFired(ctx context.Context, ruleID, prayerRequestID int) error {
	m.inc("UnmarkFired")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.firings, [2]int{ruleID, prayerRequestID})
	return nil
}

// MockTemplateRepository is an in-memory TemplateRepository
type MockTemplateRepository struct {
	calls
	templates []*models.ResponseTemplate
}

func NewMockTemplateRepository(templates ...*models.ResponseTemplate) *MockTemplateRepository {
	return &MockTemplateRepository{templates: templates}
}

func (m *MockTemplateRepository) GetByID(ctx context.Context, id int) (*models.ResponseTemplate, error) {
	m.inc("GetByID")
	for _, t := range m.templates {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("template %d: %w", id, repository.ErrNotFound)
}

func (m *MockTemplateRepository) ListActive(ctx context.Context) ([]*models.ResponseTemplate, error) {
	m.inc("ListActive")
	out := []*models.ResponseTemplate{}
	for _, t := range m.templates {
		if t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SendCall is one recorded Send invocation
type SendCall struct {
	Channel     models.Channel
	Destination string
	Subject     *string
	Body        string
}

// MockSender is a scripted service.Sender
type MockSender struct {
	mu       sync.Mutex
	sent     []SendCall
	SendFunc func(ctx context.Context, channel models.Channel, destination string, subject *string, body string) (*service.SendResult, error)
}

func (m *MockSender) Send(ctx context.Context, channel models.Channel, destination string, subject *string, body string) (*service.SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, SendCall{Channel: channel, Destination: destination, Subject: subject, Body: body})
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, channel, destination, subject, body)
	}
	return &service.SendResult{Delivered: true, ProviderID: "provider-1"}, nil
}

// Calls returns the recorded sends
func (m *MockSender) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendCall(nil), m.sent...)
}

// MockPublisher records published nudges
type MockPublisher struct {
	mu   sync.Mutex
	jobs []*models.MessageJob
	Err  error
}

func (m *MockPublisher) PublishMessageJob(ctx context.Context, job *models.MessageJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// Jobs returns the published nudges
func (m *MockPublisher) Jobs() []*models.MessageJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.MessageJob(nil), m.jobs...)
}
