package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"prayerflow/internal/models"
	"prayerflow/internal/service"
	"prayerflow/internal/testutil"
	"prayerflow/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	clock    *testutil.Clock
	store    *testutil.MessageStore
	contacts *testutil.MockContactRepository
	sender   *testutil.MockSender
	pool     *worker.Pool
	queue    *service.QueueService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    testutil.NewClock(testutil.Epoch),
		store:    testutil.NewMessageStore(),
		contacts: testutil.NewMockContactRepository(testutil.NewTestContact(1)),
		sender:   &testutil.MockSender{},
	}

	deliverer := worker.NewDeliverer(h.store, h.contacts, h.sender, worker.DefaultRetryPolicy(), nil)
	deliverer.SetClock(h.clock.Now)

	h.pool = worker.NewPool(h.store, deliverer, worker.PoolConfig{Workers: 1}, nil)
	h.pool.SetClock(h.clock.Now)

	h.queue = service.NewQueueService(h.store, nil, nil)
	h.queue.SetClock(h.clock.Now)
	return h
}

// failTimes makes the first n sends fail with err
func failTimes(n int, err error) func(context.Context, models.Channel, string, *string, string) (*service.SendResult, error) {
	calls := 0
	return func(ctx context.Context, channel models.Channel, destination string, subject *string, body string) (*service.SendResult, error) {
		calls++
		if calls <= n {
			return nil, err
		}
		return &service.SendResult{Delivered: true, ProviderID: "prov-ok"}, nil
	}
}

var networkTimeout = &service.TransientDeliveryError{Channel: "sms", Reason: "network timeout"}

// step runs one worker iteration and returns the message afterwards
func (h *harness) step(t *testing.T, id int) *models.QueuedMessage {
	t.Helper()
	processed, err := h.pool.ProcessNext(context.Background(), "worker-0")
	require.NoError(t, err)
	require.True(t, processed)
	return h.store.Get(id)
}

// Two transient failures then a success: the retry count climbs to 2 and the
// message ends sent without ever being failed.
func TestDelivery_TransientFailuresThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.sender.SendFunc = failTimes(2, networkTimeout)
	msg := h.store.Put(testutil.NewTestMessage(1, models.ChannelSMS, testutil.Epoch))

	m := h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusPending, m.Status)
	assert.Equal(t, 1, m.RetryCount)
	assert.Equal(t, testutil.Epoch.Add(2*time.Minute), m.ScheduledAt)
	require.NotNil(t, m.ErrorMessage)
	assert.Contains(t, *m.ErrorMessage, "network timeout")
	assert.Nil(t, m.ClaimedBy)

	// not due yet
	processed, err := h.pool.ProcessNext(context.Background(), "worker-0")
	require.NoError(t, err)
	assert.False(t, processed)

	h.clock.Advance(2 * time.Minute)
	m = h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusPending, m.Status)
	assert.Equal(t, 2, m.RetryCount)
	assert.Equal(t, h.clock.Now().Add(4*time.Minute), m.ScheduledAt)

	h.clock.Advance(4 * time.Minute)
	m = h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusSent, m.Status)
	assert.Equal(t, 2, m.RetryCount)
	require.NotNil(t, m.SentAt)
	assert.Equal(t, h.clock.Now(), *m.SentAt)
	require.NotNil(t, m.ProviderMessageID)
	assert.Equal(t, "prov-ok", *m.ProviderMessageID)
	assert.True(t, m.DeliveryConfirmation.Delivered)

	calls := h.sender.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "+34600000001", calls[0].Destination)
}

// Three transient failures exhaust the budget; a manual retry makes the
// message due again immediately.
func TestDelivery_RetriesExhaustedThenManualRetry(t *testing.T) {
	h := newHarness(t)
	h.sender.SendFunc = failTimes(3, networkTimeout)
	msg := h.store.Put(testutil.NewTestMessage(1, models.ChannelSMS, testutil.Epoch))

	h.step(t, msg.ID)
	h.clock.Advance(2 * time.Minute)
	h.step(t, msg.ID)
	h.clock.Advance(4 * time.Minute)
	m := h.step(t, msg.ID)

	assert.Equal(t, models.MessageStatusFailed, m.Status)
	assert.Equal(t, 3, m.RetryCount)
	require.NotNil(t, m.ErrorMessage)
	assert.Contains(t, *m.ErrorMessage, "network timeout")

	// failed messages are never claimed again on their own
	h.clock.Advance(time.Hour)
	processed, err := h.pool.ProcessNext(context.Background(), "worker-0")
	require.NoError(t, err)
	assert.False(t, processed)

	retried, err := h.queue.RetryMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, retried.Status)
	assert.Equal(t, h.clock.Now(), retried.ScheduledAt)

	m = h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusSent, m.Status)
}

func TestDelivery_PermanentFailureSkipsRetries(t *testing.T) {
	h := newHarness(t)
	h.sender.SendFunc = failTimes(1, &service.PermanentDeliveryError{Channel: "email", Reason: "invalid destination"})
	msg := h.store.Put(testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch))

	m := h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusFailed, m.Status)
	assert.Equal(t, 0, m.RetryCount)
	assert.Contains(t, *m.ErrorMessage, "invalid destination")
}

func TestDelivery_UnclassifiedErrorIsTransient(t *testing.T) {
	h := newHarness(t)
	h.sender.SendFunc = failTimes(1, errors.New("boom"))
	msg := h.store.Put(testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch))

	m := h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusPending, m.Status)
	assert.Equal(t, 1, m.RetryCount)
}

func TestDelivery_ContactLostDataFailsWithoutSending(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *models.Contact)
	}{
		{"phone removed", func(c *models.Contact) { c.Phone = nil }},
		{"unsubscribed", func(c *models.Contact) { c.Status = models.ContactStatusUnsubscribed }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			contact := testutil.NewTestContact(1)
			tc.mutate(contact)
			h.contacts.Put(contact)
			msg := h.store.Put(testutil.NewTestMessage(1, models.ChannelWhatsApp, testutil.Epoch))

			m := h.step(t, msg.ID)
			assert.Equal(t, models.MessageStatusFailed, m.Status)
			assert.Empty(t, h.sender.Calls())
		})
	}
}

func TestDelivery_DeletedContactFails(t *testing.T) {
	h := newHarness(t)
	msg := h.store.Put(testutil.NewTestMessage(77, models.ChannelEmail, testutil.Epoch))

	m := h.step(t, msg.ID)
	assert.Equal(t, models.MessageStatusFailed, m.Status)
	assert.Contains(t, *m.ErrorMessage, "no longer exists")
}

func TestDelivery_LostClaimIsAbandoned(t *testing.T) {
	h := newHarness(t)
	msg := h.store.Put(testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch))

	claimed, err := h.store.ClaimNext(context.Background(), "worker-0", testutil.Epoch)
	require.NoError(t, err)

	// the reaper hands the row back and another worker finishes it
	_, err = h.store.ReleaseExpired(context.Background(), testutil.Epoch.Add(time.Second))
	require.NoError(t, err)
	other, err := h.store.ClaimNext(context.Background(), "worker-9", testutil.Epoch)
	require.NoError(t, err)
	require.NoError(t, h.store.MarkSent(context.Background(), other.ID, "worker-9", "prov-9", testutil.Epoch))

	deliverer := worker.NewDeliverer(h.store, h.contacts, h.sender, worker.DefaultRetryPolicy(), nil)
	require.NoError(t, deliverer.Deliver(context.Background(), "worker-0", claimed))

	m := h.store.Get(msg.ID)
	assert.Equal(t, models.MessageStatusSent, m.Status)
	assert.Equal(t, "prov-9", *m.ProviderMessageID)
}

func TestDelivery_ShutdownReleasesWithoutSpendingRetry(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.sender.SendFunc = func(ctx context.Context, channel models.Channel, destination string, subject *string, body string) (*service.SendResult, error) {
		cancel()
		return nil, &service.TransientDeliveryError{Channel: string(channel), Reason: ctx.Err().Error()}
	}
	seed := testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch)
	seed.RetryCount = 2
	msg := h.store.Put(seed)

	processed, err := h.pool.ProcessNext(ctx, "worker-0")
	require.NoError(t, err)
	assert.True(t, processed)

	m := h.store.Get(msg.ID)
	assert.Equal(t, models.MessageStatusPending, m.Status)
	assert.Equal(t, 2, m.RetryCount, "an interrupted attempt is not counted")
	assert.Equal(t, testutil.Epoch, m.ScheduledAt)
	assert.Nil(t, m.ClaimedBy)
	assert.Equal(t, 1, h.store.Count("MarkReleased"))
	assert.Zero(t, h.store.Count("MarkFailed"))
}
