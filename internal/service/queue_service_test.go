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

func newQueue(t *testing.T) (*service.QueueService, *testutil.MessageStore, *testutil.MockPublisher, *testutil.Clock) {
	t.Helper()
	store := testutil.NewMessageStore()
	publisher := &testutil.MockPublisher{}
	clock := testutil.NewClock(testutil.Epoch)
	queue := service.NewQueueService(store, publisher, nil)
	queue.SetClock(clock.Now)
	return queue, store, publisher, clock
}

func TestQueueService_Build(t *testing.T) {
	queue, _, _, _ := newQueue(t)
	contact := testutil.NewTestContact(1)
	noPhone := testutil.NewTestContact(2)
	noPhone.Phone = nil

	testCases := []struct {
		name           string
		req            service.EnqueueRequest
		expectedErr    bool
		expectedStatus models.MessageStatus
		expectedAt     time.Time
	}{
		{
			name:           "due now is pending",
			req:            service.EnqueueRequest{Contact: contact, Channel: models.ChannelEmail, Content: models.MessageContent{Body: "hola"}, ScheduledAt: testutil.Epoch},
			expectedStatus: models.MessageStatusPending,
			expectedAt:     testutil.Epoch,
		},
		{
			name:           "past time is clamped to now",
			req:            service.EnqueueRequest{Contact: contact, Channel: models.ChannelSMS, Content: models.MessageContent{Body: "hola"}, ScheduledAt: testutil.Epoch.Add(-time.Hour)},
			expectedStatus: models.MessageStatusPending,
			expectedAt:     testutil.Epoch,
		},
		{
			name:           "future time is scheduled",
			req:            service.EnqueueRequest{Contact: contact, Channel: models.ChannelWhatsApp, Content: models.MessageContent{Body: "hola"}, ScheduledAt: testutil.Epoch.Add(time.Hour)},
			expectedStatus: models.MessageStatusScheduled,
			expectedAt:     testutil.Epoch.Add(time.Hour),
		},
		{
			name:        "channel all is rejected",
			req:         service.EnqueueRequest{Contact: contact, Channel: models.ChannelAll, Content: models.MessageContent{Body: "hola"}},
			expectedErr: true,
		},
		{
			name:        "missing phone",
			req:         service.EnqueueRequest{Contact: noPhone, Channel: models.ChannelSMS, Content: models.MessageContent{Body: "hola"}},
			expectedErr: true,
		},
		{
			name:        "empty body",
			req:         service.EnqueueRequest{Contact: contact, Channel: models.ChannelEmail},
			expectedErr: true,
		},
		{
			name:        "no contact",
			req:         service.EnqueueRequest{Channel: models.ChannelEmail, Content: models.MessageContent{Body: "hola"}},
			expectedErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := queue.Build(tc.req)
			if tc.expectedErr {
				var ve *service.ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedStatus, msg.Status)
			assert.Equal(t, tc.expectedAt, msg.ScheduledAt)
			assert.Equal(t, 0, msg.RetryCount)
		})
	}
}

func TestQueueService_EnqueuePublishesNudge(t *testing.T) {
	queue, store, publisher, _ := newQueue(t)

	msg, err := queue.Enqueue(context.Background(), service.EnqueueRequest{
		PrayerRequestID: 5,
		Contact:         testutil.NewTestContact(1),
		Channel:         models.ChannelEmail,
		Content:         models.MessageContent{Body: "hola"},
	})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.NotNil(t, store.Get(msg.ID))

	jobs := publisher.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, msg.ID, jobs[0].MessageID)
}

func TestQueueService_EnqueueSurvivesBrokerFailure(t *testing.T) {
	queue, store, publisher, _ := newQueue(t)
	publisher.Err = errors.New("broker down")

	_, err := queue.Enqueue(context.Background(), service.EnqueueRequest{
		Contact: testutil.NewTestContact(1),
		Channel: models.ChannelEmail,
		Content: models.MessageContent{Body: "hola"},
	})
	require.NoError(t, err)
	assert.Len(t, store.All(), 1)
}

func TestQueueService_Cancel(t *testing.T) {
	queue, store, _, _ := newQueue(t)
	ctx := context.Background()

	pending := store.Put(testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch))
	sent := testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch)
	sent.Status = models.MessageStatusSent
	store.Put(sent)

	cancelled, err := queue.CancelMessage(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusCancelled, cancelled.Status)

	_, err = queue.CancelMessage(ctx, sent.ID)
	var be *service.BusinessLogicError
	assert.ErrorAs(t, err, &be)

	_, err = queue.CancelMessage(ctx, 999)
	var nf *service.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestQueueService_ManualRetryKeepsRetryCount(t *testing.T) {
	queue, store, publisher, clock := newQueue(t)
	ctx := context.Background()

	failed := testutil.NewTestMessage(1, models.ChannelSMS, testutil.Epoch.Add(-time.Hour))
	failed.Status = models.MessageStatusFailed
	failed.RetryCount = 3
	failed.ErrorMessage = testutil.StringPtr("network timeout")
	store.Put(failed)

	clock.Advance(5 * time.Minute)
	retried, err := queue.RetryMessage(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, retried.Status)
	assert.Equal(t, clock.Now(), retried.ScheduledAt)
	assert.Equal(t, 3, retried.RetryCount)
	assert.Nil(t, retried.ErrorMessage)
	assert.Len(t, publisher.Jobs(), 1)

	_, err = queue.RetryMessage(ctx, failed.ID)
	var be *service.BusinessLogicError
	assert.ErrorAs(t, err, &be, "pending message cannot be retried")
}

func TestQueueService_RecordConfirmation(t *testing.T) {
	queue, store, _, _ := newQueue(t)
	ctx := context.Background()

	sent := testutil.NewTestMessage(1, models.ChannelWhatsApp, testutil.Epoch)
	sent.Status = models.MessageStatusSent
	store.Put(sent)
	pending := store.Put(testutil.NewTestMessage(1, models.ChannelWhatsApp, testutil.Epoch))

	readAt := testutil.Epoch.Add(time.Minute)
	got, err := queue.RecordConfirmation(ctx, sent.ID, &readAt, nil)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveryConfirmation.ReadAt)
	assert.Equal(t, readAt, *got.DeliveryConfirmation.ReadAt)

	_, err = queue.RecordConfirmation(ctx, sent.ID, nil, nil)
	var ve *service.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = queue.RecordConfirmation(ctx, pending.ID, &readAt, nil)
	var be *service.BusinessLogicError
	assert.ErrorAs(t, err, &be)
}

func TestQueueService_ListMessages(t *testing.T) {
	queue, store, _, _ := newQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.Put(testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch))
	}
	store.Put(testutil.NewTestMessage(1, models.ChannelSMS, testutil.Epoch))

	sms := models.ChannelSMS
	got, err := queue.ListMessages(ctx, models.MessageFilter{MessageType: &sms})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = queue.ListMessages(ctx, models.MessageFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = queue.ListMessages(ctx, models.MessageFilter{Limit: 501})
	var ve *service.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestQueueService_ReleaseExpiredClaims(t *testing.T) {
	queue, store, _, clock := newQueue(t)
	ctx := context.Background()

	store.Put(testutil.NewTestMessage(1, models.ChannelEmail, testutil.Epoch))
	claimed, err := store.ClaimNext(ctx, "worker-1", testutil.Epoch)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	released, err := queue.ReleaseExpiredClaims(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, released)

	clock.Advance(11 * time.Minute)
	released, err = queue.ReleaseExpiredClaims(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, models.MessageStatusPending, store.Get(claimed.ID).Status)
}
