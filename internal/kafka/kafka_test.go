package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-credentials/internal/config"
	"ms-credentials/internal/logger"
	"ms-credentials/internal/models"
	tickets "ms-credentials/internal/tickets/service"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTopics = config.TopicConfig{
	PurchaseCompleted: "ticketly.purchase.completed",
	PurchaseRefunded:  "ticketly.purchase.refunded",
	EventCancelled:    "ticketly.event.cancelled",
	TicketIssued:      "ticketly.ticket.issued",
	TicketCheckedIn:   "ticketly.ticket.checked_in",
	TicketCancelled:   "ticketly.ticket.cancelled",
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader hands out queued messages, then blocks until ctx is cancelled.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) IssueTickets(ctx context.Context, purchaseID string) (*tickets.IssueResult, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.IssueResult), args.Error(1)
}

func (m *MockHandler) CancelPurchaseTickets(ctx context.Context, purchaseID string) (int64, error) {
	args := m.Called(ctx, purchaseID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHandler) CancelEventTickets(ctx context.Context, eventID string) (int64, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(int64), args.Error(1)
}

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func TestProducerPublishTicketIssued(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: testTopics, Logger: logger.Nop()}

	c := models.TicketCredential{
		ID:           "cred-1",
		PurchaseID:   "purchase-1",
		EventID:      "event-1",
		UserID:       "user-1",
		TicketNumber: 2,
		SecureCode:   "secret-code",
		GeneratedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.PublishTicketIssued(context.Background(), c))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, testTopics.TicketIssued, msg.Topic)
	assert.Equal(t, "purchase-1", string(msg.Key))
	assert.NotContains(t, string(msg.Value), "secret-code")

	var ev TicketIssuedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "cred-1", ev.CredentialID)
	assert.Equal(t, 2, ev.TicketNumber)
}

func TestProducerPublishCheckedInAndCancelled(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: testTopics}

	at := time.Now().UTC()
	by := "organizer-1"
	require.NoError(t, p.PublishTicketCheckedIn(context.Background(), models.TicketCredential{
		ID: "cred-1", PurchaseID: "purchase-1", ScannedAt: &at, ScannedBy: &by,
	}))
	require.NoError(t, p.PublishTicketsCancelled(context.Background(), "event", "event-1", 3))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, testTopics.TicketCheckedIn, w.msgs[0].Topic)
	var checked TicketCheckedInEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &checked))
	assert.Equal(t, by, checked.ScannedBy)

	assert.Equal(t, testTopics.TicketCancelled, w.msgs[1].Topic)
	assert.Equal(t, "event-1", string(w.msgs[1].Key))
	var cancelled TicketsCancelledEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &cancelled))
	assert.Equal(t, int64(3), cancelled.Count)
}

func TestProducerWrapsWriterError(t *testing.T) {
	p := &Producer{Writer: &fakeWriter{err: errors.New("leader not available")}, Topics: testTopics}

	err := p.PublishTicketsCancelled(context.Background(), "purchase", "p-1", 1)
	assert.ErrorContains(t, err, testTopics.TicketCancelled)
}

func TestConsumerDispatch(t *testing.T) {
	handler := new(MockHandler)
	cache := new(MockInvalidator)
	c := &Consumer{topics: testTopics, handler: handler, cache: cache, logger: logger.Nop()}
	ctx := context.Background()

	handler.On("IssueTickets", ctx, "p-1").Return(&tickets.IssueResult{}, nil).Once()
	handler.On("CancelPurchaseTickets", ctx, "p-2").Return(int64(2), nil).Once()
	handler.On("CancelEventTickets", ctx, "e-1").Return(int64(10), nil).Once()
	cache.On("Invalidate", ctx, "e-1").Return(nil).Once()

	require.NoError(t, c.handle(ctx, kafka.Message{Topic: testTopics.PurchaseCompleted, Value: []byte(`{"purchase_id":"p-1"}`)}))
	require.NoError(t, c.handle(ctx, kafka.Message{Topic: testTopics.PurchaseRefunded, Value: []byte(`{"purchase_id":"p-2"}`)}))
	require.NoError(t, c.handle(ctx, kafka.Message{Topic: testTopics.EventCancelled, Value: []byte(`{"event_id":"e-1"}`)}))

	handler.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestConsumerRejectsBadMessages(t *testing.T) {
	handler := new(MockHandler)
	c := &Consumer{topics: testTopics, handler: handler, logger: logger.Nop()}
	ctx := context.Background()

	assert.Error(t, c.handle(ctx, kafka.Message{Topic: testTopics.PurchaseCompleted, Value: []byte(`not json`)}))
	assert.ErrorIs(t, c.handle(ctx, kafka.Message{Topic: testTopics.PurchaseCompleted, Value: []byte(`{}`)}), errMissingID)
	assert.ErrorIs(t, c.handle(ctx, kafka.Message{Topic: testTopics.EventCancelled, Value: []byte(`{"reason":"rain"}`)}), errMissingID)
	assert.NoError(t, c.handle(ctx, kafka.Message{Topic: "unrelated", Value: []byte(`{}`)}))

	handler.AssertNotCalled(t, "IssueTickets", mock.Anything, mock.Anything)
}

func TestConsumerStartCommitsAndStops(t *testing.T) {
	handler := new(MockHandler)
	handler.On("IssueTickets", mock.Anything, "p-1").Return(nil, errors.New("purchase context could not be resolved")).Once()
	handler.On("CancelPurchaseTickets", mock.Anything, "p-2").Return(int64(1), nil).Once()

	reader := &fakeReader{queue: []kafka.Message{
		{Topic: testTopics.PurchaseCompleted, Value: []byte(`{"purchase_id":"p-1"}`)},
		{Topic: testTopics.PurchaseRefunded, Value: []byte(`{"purchase_id":"p-2"}`)},
	}}
	c := &Consumer{reader: reader, topics: testTopics, handler: handler, logger: logger.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	assert.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
	handler.AssertExpectations(t)
}

func TestAllTopics(t *testing.T) {
	assert.Len(t, AllTopics(testTopics), 6)
	assert.Contains(t, AllTopics(testTopics), "ticketly.ticket.checked_in")
}
