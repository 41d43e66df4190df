package lending

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
	"github.com/hitoshi/apollo/internal/repository/memstore"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type recordedOp struct {
	operation string
	result    string
	duration  time.Duration
}

type recordingMetrics struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (m *recordingMetrics) RecordOperation(operation, result string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, recordedOp{operation, result, duration})
}

func (m *recordingMetrics) last() recordedOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[len(m.ops)-1]
}

// fixture はmemstore上に構築した貸出サービス一式。
type fixture struct {
	t       *testing.T
	store   *memstore.Store
	service *Service
	query   *Query
	metrics *recordingMetrics
	logs    *bytes.Buffer

	mu     sync.Mutex
	failOn string
	ticks  int
	seq    int
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	limit int
}

func withLimit(n int) fixtureOption {
	return func(c *fixtureConfig) { c.limit = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{limit: 3}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{t: t, metrics: &recordingMetrics{}, logs: &bytes.Buffer{}}
	f.store = memstore.New(memstore.WithFaultHook(func(op string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if op == f.failOn {
			return fmt.Errorf("injected failure")
		}
		return nil
	}))
	f.service = NewService(f.store, ServiceConfig{
		ReservationLimit: cfg.limit,
		Metrics:          f.metrics,
		Logger:           slog.New(slog.NewJSONHandler(&syncWriter{w: f.logs}, nil)),
		Now:              f.now,
		NewID:            f.newID,
	})
	f.query = NewQuery(f.store.Books(), f.store.Loans(), f.store.Reservations())
	return f
}

// now は呼び出しごとに1分進む時計。
func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return baseTime.Add(time.Duration(f.ticks) * time.Minute)
}

func (f *fixture) newID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("id-%03d", f.seq)
}

// failWritesOn は指定した書き込みを失敗させる。空文字列で解除する。
func (f *fixture) failWritesOn(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = op
}

func (f *fixture) addUser(id string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Users().Create(context.Background(), &model.User{
		ID: id, Name: id, LoanIDs: []string{}, ReservationIDs: []string{}, CreatedAt: baseTime,
	}))
}

func (f *fixture) addBook(id string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Books().Create(context.Background(), &model.Book{
		ID: id, Title: "Title " + id, CreatedAt: baseTime, UpdatedAt: baseTime,
	}))
}

func (f *fixture) book(id string) *model.Book {
	f.t.Helper()
	b, err := f.store.Books().FindByID(context.Background(), id)
	require.NoError(f.t, err)
	require.NotNil(f.t, b, "book %s", id)
	return b
}

func (f *fixture) user(id string) *model.User {
	f.t.Helper()
	u, err := f.store.Users().FindByID(context.Background(), id)
	require.NoError(f.t, err)
	require.NotNil(f.t, u, "user %s", id)
	return u
}

func (f *fixture) loan(id string) *model.Loan {
	f.t.Helper()
	l, err := f.store.Loans().FindByID(context.Background(), id)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) reservation(id string) *model.Reservation {
	f.t.Helper()
	r, err := f.store.Reservations().FindByID(context.Background(), id)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) loansOf(bookID string) []*model.Loan {
	f.t.Helper()
	loans, err := f.store.Loans().ListByBookID(context.Background(), bookID)
	require.NoError(f.t, err)
	return loans
}

// tamper はサービスを介さずに状態を書き換える。不整合な状態の再現に使う。
func (f *fixture) tamper(fn func(ctx context.Context, tx repository.Tx) error) {
	f.t.Helper()
	require.NoError(f.t, f.store.WithinTx(context.Background(), fn))
}

// snapshot は蔵書・ユーザー・貸出・予約の比較用スナップショット。
type snapshot struct {
	book         *model.Book
	users        map[string]*model.User
	loans        []*model.Loan
	reservations map[string]*model.Reservation
}

func (f *fixture) snapshot(bookID string, userIDs ...string) snapshot {
	f.t.Helper()
	s := snapshot{
		book:         f.book(bookID),
		users:        make(map[string]*model.User),
		loans:        f.loansOf(bookID),
		reservations: make(map[string]*model.Reservation),
	}
	for _, id := range userIDs {
		u := f.user(id)
		s.users[id] = u
		for _, rid := range u.ReservationIDs {
			s.reservations[rid] = f.reservation(rid)
		}
	}
	if s.book.ReservationID != "" {
		s.reservations[s.book.ReservationID] = f.reservation(s.book.ReservationID)
	}
	return s
}

func assertAPIError(t *testing.T, err error, category model.ErrorCategory, message string) {
	t.Helper()
	require.Error(t, err)
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, category, apiErr.Category, "category of %v", err)
	assert.Equal(t, message, apiErr.Message)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
