package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/repository"
)

// MessageStore is an in-memory MessageRepository. Claims and completions are
// conditional on status and owner under one mutex, so concurrent workers see
// the same exclusivity the SQL implementation gives.
type MessageStore struct {
	calls
	mu       sync.Mutex
	messages map[int]*models.QueuedMessage
	nextID   int

	CreateFunc func(ctx context.Context, message *models.QueuedMessage) error
}

func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[int]*models.QueuedMessage)}
}

// Put inserts a message as-is, assigning an ID when it has none
func (s *MessageStore) Put(m *models.QueuedMessage) *models.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	cp := *m
	s.messages[m.ID] = &cp
	return m
}

// Get returns a copy of the stored message, or nil
func (s *MessageStore) Get(id int) *models.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// All returns every stored message ordered by ID
func (s *MessageStore) All() []*models.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.QueuedMessage, 0, len(s.messages))
	for _, m := range s.messages {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MessageStore) Create(ctx context.Context, message *models.QueuedMessage) error {
	s.inc("Create")
	if s.CreateFunc != nil {
		if err := s.CreateFunc(ctx, message); err != nil {
			return err
		}
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.UpdatedAt = message.CreatedAt
	message.ID = 0
	s.Put(message)
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, id int) (*models.QueuedMessage, error) {
	s.inc("GetByID")
	if m := s.Get(id); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("message %d: %w", id, repository.ErrNotFound)
}

func (s *MessageStore) List(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error) {
	s.inc("List")
	out := []*models.QueuedMessage{}
	for _, m := range s.All() {
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.MessageType != nil && m.MessageType != *filter.MessageType {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MessageStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.QueuedMessage, error) {
	s.inc("ClaimNext")
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.QueuedMessage
	for _, m := range s.messages {
		if !m.IsDue(now) {
			continue
		}
		if best == nil || m.ScheduledAt.Before(best.ScheduledAt) ||
			(m.ScheduledAt.Equal(best.ScheduledAt) && m.ID < best.ID) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}

	owner := workerID
	claimedAt := now
	best.Status = models.MessageStatusProcessing
	best.ClaimedBy = &owner
	best.ClaimedAt = &claimedAt
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

// owned returns the message when workerID holds its claim
func (s *MessageStore) owned(id int, workerID string) (*models.QueuedMessage, error) {
	m, ok := s.messages[id]
	if !ok || m.Status != models.MessageStatusProcessing || m.ClaimedBy == nil || *m.ClaimedBy != workerID {
		return nil, fmt.Errorf("message %d: %w", id, repository.ErrClaimLost)
	}
	return m, nil
}

func (s *MessageStore) MarkSent(ctx context.Context, id int, workerID, providerMessageID string, sentAt time.Time) error {
	s.inc("MarkSent")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned(id, workerID)
	if err != nil {
		return err
	}
	at := sentAt
	provider := providerMessageID
	m.Status = models.MessageStatusSent
	m.SentAt = &at
	m.DeliveryConfirmation.Delivered = true
	m.ProviderMessageID = &provider
	m.ErrorMessage = nil
	m.ClaimedBy, m.ClaimedAt = nil, nil
	return nil
}

func (s *MessageStore) MarkRetry(ctx context.Context, id int, workerID string, retryCount int, nextAttempt time.Time, errMsg string) error {
	s.inc("MarkRetry")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned(id, workerID)
	if err != nil {
		return err
	}
	msg := errMsg
	m.Status = models.MessageStatusPending
	m.RetryCount = retryCount
	m.ScheduledAt = nextAttempt
	m.ErrorMessage = &msg
	m.ClaimedBy, m.ClaimedAt = nil, nil
	return nil
}

func (s *MessageStore) MarkFailed(ctx context.Context, id int, workerID string, retryCount int, errMsg string) error {
	s.inc("MarkFailed")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned(id, workerID)
	if err != nil {
		return err
	}
	msg := errMsg
	m.Status = models.MessageStatusFailed
	m.RetryCount = retryCount
	m.ErrorMessage = &msg
	m.ClaimedBy, m.ClaimedAt = nil, nil
	return nil
}

func (s *MessageStore) MarkReleased(ctx context.Context, id int, workerID string) error {
	s.inc("MarkReleased")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned(id, workerID)
	if err != nil {
		return err
	}
	m.Status = models.MessageStatusPending
	m.ClaimedBy, m.ClaimedAt = nil, nil
	return nil
}

func (s *MessageStore) ReleaseExpired(ctx context.Context, claimedBefore time.Time) (int64, error) {
	s.inc("ReleaseExpired")
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.Status == models.MessageStatusProcessing && m.ClaimedAt != nil && m.ClaimedAt.Before(claimedBefore) {
			m.Status = models.MessageStatusPending
			m.ClaimedBy, m.ClaimedAt = nil, nil
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) Cancel(ctx context.Context, id int) error {
	s.inc("Cancel")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || !m.CanCancel() {
		return fmt.Errorf("message %d: %w", id, repository.ErrInvalidState)
	}
	m.Status = models.MessageStatusCancelled
	return nil
}

func (s *MessageStore) Retry(ctx context.Context, id int, now time.Time) error {
	s.inc("Retry")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || !m.CanRetry() {
		return fmt.Errorf("message %d: %w", id, repository.ErrInvalidState)
	}
	m.Status = models.MessageStatusPending
	m.ScheduledAt = now
	m.ErrorMessage = nil
	return nil
}

func (s *MessageStore) RecordConfirmation(ctx context.Context, id int, readAt, responseReceived *time.Time) error {
	s.inc("RecordConfirmation")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != models.MessageStatusSent {
		return fmt.Errorf("message %d: %w", id, repository.ErrInvalidState)
	}
	if readAt != nil {
		m.DeliveryConfirmation.ReadAt = readAt
	}
	if responseReceived != nil {
		m.DeliveryConfirmation.ResponseReceived = responseReceived
	}
	return nil
}

func (s *MessageStore) Aggregates(ctx context.Context, topN int) (*models.QueueAggregates, error) {
	s.inc("Aggregates")
	agg := &models.QueueAggregates{
		MessagesByType:   map[models.Channel]int{},
		MessagesByStatus: map[models.MessageStatus]int{},
	}
	var deliverySecs float64
	for _, m := range s.All() {
		agg.Total++
		agg.MessagesByType[m.MessageType]++
		agg.MessagesByStatus[m.Status]++
		if m.Status == models.MessageStatusSent {
			agg.Sent++
			if m.SentAt != nil {
				deliverySecs += m.SentAt.Sub(m.CreatedAt).Seconds()
			}
			if m.DeliveryConfirmation.ResponseReceived != nil {
				agg.Responded++
			}
		}
	}
	if agg.Sent > 0 {
		agg.AvgDeliverySecs = deliverySecs / float64(agg.Sent)
	}
	return agg, nil
}
