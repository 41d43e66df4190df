// Package memstore はメモリ上のレコードストアを提供する。
// テストと永続化不要な開発環境向け。
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
)

// FaultHook はトランザクション内の各書き込みの直前に呼ばれる。
// エラーを返すとその書き込みは失敗し、トランザクション全体がロールバックされる。
type FaultHook func(op string) error

// Option はStoreの生成オプション。
type Option func(*Store)

// WithFaultHook は書き込み失敗を注入するフックを設定する。
func WithFaultHook(hook FaultHook) Option {
	return func(s *Store) {
		s.fault = hook
	}
}

type state struct {
	books        map[string]*model.Book
	users        map[string]*model.User
	loans        map[string]*model.Loan
	reservations map[string]*model.Reservation
}

func newState() state {
	return state{
		books:        make(map[string]*model.Book),
		users:        make(map[string]*model.User),
		loans:        make(map[string]*model.Loan),
		reservations: make(map[string]*model.Reservation),
	}
}

func (s state) clone() state {
	c := state{
		books:        make(map[string]*model.Book, len(s.books)),
		users:        make(map[string]*model.User, len(s.users)),
		loans:        make(map[string]*model.Loan, len(s.loans)),
		reservations: make(map[string]*model.Reservation, len(s.reservations)),
	}
	for id, b := range s.books {
		c.books[id] = b.Clone()
	}
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	for id, l := range s.loans {
		c.loans[id] = l.Clone()
	}
	for id, r := range s.reservations {
		rc := *r
		c.reservations[id] = &rc
	}
	return c
}

// Store はメモリ上のレコードストア。
// トランザクションは状態全体の複製に対して実行し、コミット時に差し替える。
// トランザクション同士は排他ロックで直列化される。
type Store struct {
	mu    sync.RWMutex
	state state
	fault FaultHook
}

// New はStoreを生成する。
func New(opts ...Option) *Store {
	s := &Store{state: newState()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx はfnを1つのトランザクションとして実行する。
// fnが正常に返った場合のみ変更を反映する。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &memTx{state: s.state.clone(), fault: s.fault}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Books は蔵書リポジトリを返す。
func (s *Store) Books() repository.BookRepository { return bookRepo{s: s} }

// Users はユーザーリポジトリを返す。
func (s *Store) Users() repository.UserRepository { return userRepo{s: s} }

// Loans は貸出リポジトリを返す。
func (s *Store) Loans() repository.LoanRepository { return loanRepo{s: s} }

// Reservations は予約リポジトリを返す。
func (s *Store) Reservations() repository.ReservationRepository { return reservationRepo{s: s} }

// Ping は常に成功する。
func (s *Store) Ping(context.Context) error { return nil }

// Close は何もしない。
func (s *Store) Close() error { return nil }

type bookRepo struct{ s *Store }

func (r bookRepo) FindByID(_ context.Context, id string) (*model.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if b, ok := r.s.state.books[id]; ok {
		return b.Clone(), nil
	}
	return nil, nil
}

func (r bookRepo) Create(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.books[book.ID]; ok {
		return fmt.Errorf("book %s already exists", book.ID)
	}
	c := book.Clone()
	c.LoanID, c.ReservationID = "", ""
	r.s.state.books[book.ID] = c
	return nil
}

func (r bookRepo) UpdateMetadata(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.state.books[book.ID]
	if !ok {
		return fmt.Errorf("book %s: %w", book.ID, repository.ErrNotFound)
	}
	b.Title = book.Title
	b.Author = book.Author
	b.Tags = append([]string(nil), book.Tags...)
	b.UpdatedAt = book.UpdatedAt
	return nil
}

func (r bookRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.books[id]; !ok {
		return fmt.Errorf("book %s: %w", id, repository.ErrNotFound)
	}
	delete(r.s.state.books, id)
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u, ok := r.s.state.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, nil
}

func (r userRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	r.s.state.users[user.ID] = user.Clone()
	return nil
}

type loanRepo struct{ s *Store }

func (r loanRepo) FindByID(_ context.Context, id string) (*model.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if l, ok := r.s.state.loans[id]; ok {
		return l.Clone(), nil
	}
	return nil, nil
}

func (r loanRepo) ListByBookID(_ context.Context, bookID string) ([]*model.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var loans []*model.Loan
	for _, l := range r.s.state.loans {
		if l.BookID == bookID {
			loans = append(loans, l.Clone())
		}
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].CreatedAt.Equal(loans[j].CreatedAt) {
			return loans[i].CreatedAt.Before(loans[j].CreatedAt)
		}
		return loans[i].ID < loans[j].ID
	})
	return loans, nil
}

type reservationRepo struct{ s *Store }

func (r reservationRepo) FindByID(_ context.Context, id string) (*model.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if rsv, ok := r.s.state.reservations[id]; ok {
		c := *rsv
		return &c, nil
	}
	return nil, nil
}

// memTx はトランザクション中の状態の複製を保持する。
type memTx struct {
	state state
	fault FaultHook
}

func (t *memTx) inject(op string) error {
	if t.fault == nil {
		return nil
	}
	if err := t.fault(op); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func (t *memTx) FindUser(_ context.Context, id string) (*model.User, error) {
	if u, ok := t.state.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, nil
}

func (t *memTx) FindBook(_ context.Context, id string) (*model.Book, error) {
	if b, ok := t.state.books[id]; ok {
		return b.Clone(), nil
	}
	return nil, nil
}

func (t *memTx) FindLoan(_ context.Context, id string) (*model.Loan, error) {
	if l, ok := t.state.loans[id]; ok {
		return l.Clone(), nil
	}
	return nil, nil
}

func (t *memTx) FindReservation(_ context.Context, id string) (*model.Reservation, error) {
	if r, ok := t.state.reservations[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) FindBookHolders(_ context.Context, bookID string) (string, string, error) {
	b, ok := t.state.books[bookID]
	if !ok {
		return "", "", nil
	}
	var borrowerID, holderID string
	if l, ok := t.state.loans[b.LoanID]; ok {
		borrowerID = l.UserID
	}
	if r, ok := t.state.reservations[b.ReservationID]; ok {
		holderID = r.UserID
	}
	return borrowerID, holderID, nil
}

func (t *memTx) CreateLoan(_ context.Context, loan *model.Loan) error {
	if err := t.inject("CreateLoan"); err != nil {
		return err
	}
	if _, ok := t.state.loans[loan.ID]; ok {
		return fmt.Errorf("loan %s already exists", loan.ID)
	}
	for _, l := range t.state.loans {
		if l.BookID == loan.BookID && l.Active() {
			return fmt.Errorf("book %s already has an active loan", loan.BookID)
		}
	}
	t.state.loans[loan.ID] = loan.Clone()
	return nil
}

func (t *memTx) SetLoanReturnDate(_ context.Context, loanID string, at time.Time) error {
	if err := t.inject("SetLoanReturnDate"); err != nil {
		return err
	}
	l, ok := t.state.loans[loanID]
	if !ok {
		return fmt.Errorf("loan %s: %w", loanID, repository.ErrNotFound)
	}
	l.ReturnDate = &at
	return nil
}

func (t *memTx) SetLoanDue(_ context.Context, loanID string, due time.Time) error {
	if err := t.inject("SetLoanDue"); err != nil {
		return err
	}
	l, ok := t.state.loans[loanID]
	if !ok {
		return fmt.Errorf("loan %s: %w", loanID, repository.ErrNotFound)
	}
	l.Due = due
	return nil
}

func (t *memTx) CreateReservation(_ context.Context, r *model.Reservation) error {
	if err := t.inject("CreateReservation"); err != nil {
		return err
	}
	if _, ok := t.state.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	for _, existing := range t.state.reservations {
		if existing.BookID == r.BookID {
			return fmt.Errorf("book %s already has a reservation", r.BookID)
		}
	}
	c := *r
	t.state.reservations[r.ID] = &c
	return nil
}

func (t *memTx) DeleteReservation(_ context.Context, reservationID string) error {
	if err := t.inject("DeleteReservation"); err != nil {
		return err
	}
	if _, ok := t.state.reservations[reservationID]; !ok {
		return fmt.Errorf("reservation %s: %w", reservationID, repository.ErrNotFound)
	}
	delete(t.state.reservations, reservationID)
	return nil
}

func (t *memTx) AppendUserLoan(_ context.Context, userID, loanID string) error {
	if err := t.inject("AppendUserLoan"); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	u.LoanIDs = append(u.LoanIDs, loanID)
	return nil
}

func (t *memTx) RemoveUserLoan(_ context.Context, userID, loanID string) error {
	if err := t.inject("RemoveUserLoan"); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	u.LoanIDs = remove(u.LoanIDs, loanID)
	return nil
}

func (t *memTx) AppendUserReservation(_ context.Context, userID, reservationID string) error {
	if err := t.inject("AppendUserReservation"); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	u.ReservationIDs = append(u.ReservationIDs, reservationID)
	return nil
}

func (t *memTx) RemoveUserReservation(_ context.Context, userID, reservationID string) error {
	if err := t.inject("RemoveUserReservation"); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	u.ReservationIDs = remove(u.ReservationIDs, reservationID)
	return nil
}

func (t *memTx) SetBookLoan(_ context.Context, bookID, loanID string) error {
	if err := t.inject("SetBookLoan"); err != nil {
		return err
	}
	b, ok := t.state.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, repository.ErrNotFound)
	}
	b.LoanID = loanID
	return nil
}

func (t *memTx) SetBookReservation(_ context.Context, bookID, reservationID string) error {
	if err := t.inject("SetBookReservation"); err != nil {
		return err
	}
	b, ok := t.state.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, repository.ErrNotFound)
	}
	b.ReservationID = reservationID
	return nil
}

// remove はidsからidを全て取り除いた新しいスライスを返す。array_removeと同じ挙動。
func remove(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
}

// compile-time interface check
var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = (*memTx)(nil)
)
