package tickets_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-credentials/internal/directory"
	"ms-credentials/internal/logger"
	"ms-credentials/internal/models"
	"ms-credentials/internal/testutil"
	"ms-credentials/internal/tickets/db"
	"ms-credentials/internal/tickets/lock"
	"ms-credentials/internal/tickets/qrcode"
	tickets "ms-credentials/internal/tickets/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishTicketIssued(ctx context.Context, c models.TicketCredential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockPublisher) PublishTicketCheckedIn(ctx context.Context, c models.TicketCredential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockPublisher) PublishTicketsCancelled(ctx context.Context, scope, id string, count int64) error {
	return m.Called(ctx, scope, id, count).Error(0)
}

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) TicketsIssued(n int)              { m.Called(n) }
func (m *MockMetrics) IssuanceFailed(kind string)       { m.Called(kind) }
func (m *MockMetrics) ValidationOutcome(outcome string) { m.Called(outcome) }

// flakyStore fails inserts for selected ticket numbers.
type flakyStore struct {
	*db.DB
	failOn map[int]error
}

func (f *flakyStore) CreateCredential(ctx context.Context, c *models.TicketCredential) error {
	if err := f.failOn[c.TicketNumber]; err != nil {
		return err
	}
	return f.DB.CreateCredential(ctx, c)
}

// fixedCodes always produces the same code.
type fixedCodes struct {
	code string
}

func (f fixedCodes) GenerateSecureCode(string, int) (string, error) { return f.code, nil }
func (f fixedCodes) PayloadURL(code string) string                 { return "https://tickets.test/tickets/consult?code=" + code }

// collidingCodes hands out an already stored code first, then real ones.
type collidingCodes struct {
	tickets.CodeGenerator

	mu       sync.Mutex
	taken    string
	replayed int
}

func (c *collidingCodes) GenerateSecureCode(purchaseID string, n int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replayed == 0 {
		c.replayed++
		return c.taken, nil
	}
	return c.CodeGenerator.GenerateSecureCode(purchaseID, n)
}

type fixture struct {
	svc       *tickets.TicketService
	bun       *bun.DB
	store     *db.DB
	lock      *lock.IssuanceLock
	pub       *MockPublisher
	event     models.Event
	user      models.User
	organizer string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bunDB := testutil.NewSQLiteDB(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	store := &db.DB{Bun: bunDB}
	dir := &directory.DB{Bun: bunDB}
	l := lock.NewIssuanceLock(client, time.Minute)

	pub := new(MockPublisher)
	pub.On("PublishTicketIssued", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishTicketCheckedIn", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishTicketsCancelled", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := tickets.NewTicketService(
		store,
		directory.NewEventCache(client, dir, time.Minute, nil),
		dir,
		l,
		qrcode.NewGenerator("test-secret", "https://tickets.test"),
		pub,
		logger.Nop(),
		tickets.Options{},
	)

	organizer := "organizer-1"
	return &fixture{
		svc:       svc,
		bun:       bunDB,
		store:     store,
		lock:      l,
		pub:       pub,
		event:     testutil.InsertEvent(t, bunDB, organizer, time.Now().Add(48*time.Hour)),
		user:      testutil.InsertUser(t, bunDB, "ada"),
		organizer: organizer,
	}
}

func (f *fixture) purchase(t *testing.T, quantity int) models.Purchase {
	t.Helper()
	return testutil.InsertPurchase(t, f.bun, f.event.ID, f.user.ID, quantity, time.Now())
}

func (f *fixture) issue(t *testing.T, quantity int) []models.TicketCredential {
	t.Helper()
	p := f.purchase(t, quantity)
	res, err := f.svc.IssueTickets(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, res.Credentials, quantity)
	return res.Credentials
}

func ticketNumbers(t *testing.T, store *db.DB, purchaseID string) []int {
	t.Helper()
	nums, err := store.TicketNumbersByPurchase(context.Background(), purchaseID)
	require.NoError(t, err)
	return nums
}

func validationKind(err error) tickets.ValidationKind {
	var verr *tickets.ValidationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}
