package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"prayerflow/internal/models"

	"github.com/google/uuid"
)

// SendResult represents the result of a successful send
type SendResult struct {
	Delivered  bool
	ProviderID string
	Latency    time.Duration
}

// Sender is the channel gateway contract. Implementations return a
// *TransientDeliveryError or *PermanentDeliveryError on failure.
type Sender interface {
	Send(ctx context.Context, channel models.Channel, destination string, subject *string, body string) (*SendResult, error)
}

// SenderService simulates the email, SMS and WhatsApp gateways
type SenderService struct {
	successRate float64 // 0.0 to 1.0 (e.g., 0.95 = 95% success)
	maxLatency  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSenderService creates a new simulated sender
// successRate: probability of successful send (0.0 to 1.0)
func NewSenderService(successRate float64) *SenderService {
	return &SenderService{
		successRate: clampRate(successRate),
		maxLatency:  200 * time.Millisecond,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func clampRate(rate float64) float64 {
	if rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return rate
}

// failure reasons the simulated gateway picks from; the bool marks permanent ones
var simulatedFailures = []struct {
	reason    string
	permanent bool
}{
	{"network timeout", false},
	{"rate limit exceeded", false},
	{"service temporarily unavailable", false},
	{"invalid destination", true},
	{"recipient blocked sender", true},
}

// Send simulates a delivery on the given channel
func (s *SenderService) Send(ctx context.Context, channel models.Channel, destination string, subject *string, body string) (*SendResult, error) {
	start := time.Now()

	s.mu.Lock()
	latency := time.Duration(s.rand.Int63n(int64(s.maxLatency) + 1))
	success := s.rand.Float64() < s.successRate
	failure := simulatedFailures[s.rand.Intn(len(simulatedFailures))]
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, &TransientDeliveryError{Channel: string(channel), Reason: ctx.Err().Error()}
	case <-time.After(latency):
	}

	if destination == "" {
		return nil, &PermanentDeliveryError{Channel: string(channel), Reason: "missing destination"}
	}

	if !success {
		if failure.permanent {
			return nil, &PermanentDeliveryError{Channel: string(channel), Reason: failure.reason}
		}
		return nil, &TransientDeliveryError{Channel: string(channel), Reason: failure.reason}
	}

	return &SendResult{
		Delivered:  true,
		ProviderID: uuid.NewString(),
		Latency:    time.Since(start),
	}, nil
}

// GetSuccessRate returns the configured success rate
func (s *SenderService) GetSuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRate
}

// SetSuccessRate updates the success rate (for testing)
func (s *SenderService) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRate = clampRate(rate)
}

// SetMaxLatency bounds the simulated network latency
func (s *SenderService) SetMaxLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxLatency = d
}
