package worker

import (
	"context"
	"fmt"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MessageDeliverer handles one claimed message
type MessageDeliverer interface {
	Deliver(ctx context.Context, workerID string, msg *models.QueuedMessage) error
}

// PoolConfig controls the worker pool
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
}

// Pool runs N workers that claim due messages and deliver them
type Pool struct {
	messages  repository.MessageRepository
	deliverer MessageDeliverer
	config    PoolConfig
	logger    *zap.Logger
	nudges    chan struct{}
	instance  string
	now       func() time.Time
}

// NewPool creates a worker pool
func NewPool(messages repository.MessageRepository, deliverer MessageDeliverer, config PoolConfig, logger *zap.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		messages:  messages,
		deliverer: deliverer,
		config:    config,
		logger:    logger,
		nudges:    make(chan struct{}, config.Workers),
		instance:  uuid.NewString(),
		now:       time.Now,
	}
}

// SetClock overrides the time source (for testing)
func (p *Pool) SetClock(now func() time.Time) {
	p.now = now
}

// Nudge wakes one idle worker. It never blocks.
func (p *Pool) Nudge() {
	select {
	case p.nudges <- struct{}{}:
	default:
	}
}

// WorkerID returns the claim identity of worker i
func (p *Pool) WorkerID(i int) string {
	return fmt.Sprintf("%s-%d", p.instance, i)
}

// Run starts the workers and blocks until ctx is cancelled or a worker
// hits an unrecoverable error
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.Workers; i++ {
		workerID := p.WorkerID(i)
		g.Go(func() error {
			return p.work(ctx, workerID)
		})
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Duration("poll_interval", p.config.PollInterval),
	)
	err := g.Wait()
	p.logger.Info("Worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, workerID string) error {
	log := p.logger.With(zap.String("worker_id", workerID))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := p.ProcessNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("Worker iteration failed", zap.Error(err))
		}
		if processed && err == nil {
			continue
		}

		// idle: sleep until the poll interval passes or a nudge arrives
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.config.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-p.nudges:
		}
	}
}

// ProcessNext claims and delivers at most one message. It reports whether a
// message was claimed.
func (p *Pool) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	msg, err := p.messages.ClaimNext(ctx, workerID, p.now().UTC())
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	return true, p.deliverer.Deliver(ctx, workerID, msg)
}
