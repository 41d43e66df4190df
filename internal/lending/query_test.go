package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
)

func TestQuery_CurrentLoan(t *testing.T) {
	f := newFixture(t)
	f.addUser("U1")
	f.addBook("B1")
	ctx := context.Background()

	_, err := f.query.CurrentLoan(ctx, "missing")
	assertAPIError(t, err, model.CategoryNotFound, "Book doesn't exist")

	_, err = f.query.CurrentLoan(ctx, "B1")
	assertAPIError(t, err, model.CategoryInvalidState, "Book not on loan")

	loan, err := f.service.Withdraw(ctx, "B1", "U1", "2024-06-01")
	require.NoError(t, err)

	current, err := f.query.CurrentLoan(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, loan.ID, current.ID)
	assert.Equal(t, loan.Due, current.Due)

	_, err = f.service.Deposit(ctx, "B1", "U1")
	require.NoError(t, err)
	_, err = f.query.CurrentLoan(ctx, "B1")
	assertAPIError(t, err, model.CategoryInvalidState, "Book not on loan")
}

func TestQuery_CurrentLoan_DanglingReference(t *testing.T) {
	f := newFixture(t)
	f.addBook("B1")
	f.tamper(func(ctx context.Context, tx repository.Tx) error {
		return tx.SetBookLoan(ctx, "B1", "ghost")
	})

	_, err := f.query.CurrentLoan(context.Background(), "B1")
	assertAPIError(t, err, model.CategoryNotFound, "Loan doesn't exist")
}

func TestQuery_CurrentReservation(t *testing.T) {
	f := newFixture(t)
	f.addUser("U1")
	f.addBook("B1")
	ctx := context.Background()

	_, err := f.query.CurrentReservation(ctx, "missing")
	assertAPIError(t, err, model.CategoryNotFound, "Book doesn't exist")

	_, err = f.query.CurrentReservation(ctx, "B1")
	assertAPIError(t, err, model.CategoryInvalidState, "Book not reserved")

	reservation, err := f.service.Reserve(ctx, "B1", "U1")
	require.NoError(t, err)

	current, err := f.query.CurrentReservation(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, reservation.ID, current.ID)
	assert.Equal(t, "U1", current.UserID)
}

func TestQuery_CurrentReservation_DanglingReference(t *testing.T) {
	f := newFixture(t)
	f.addBook("B1")
	f.tamper(func(ctx context.Context, tx repository.Tx) error {
		return tx.SetBookReservation(ctx, "B1", "ghost")
	})

	_, err := f.query.CurrentReservation(context.Background(), "B1")
	assertAPIError(t, err, model.CategoryNotFound, "Reservation doesn't exist")
}

func TestQuery_History(t *testing.T) {
	f := newFixture(t)
	f.addUser("U1")
	f.addUser("U2")
	f.addBook("B1")
	ctx := context.Background()

	history, err := f.query.BookHistory(ctx, "B1")
	require.NoError(t, err)
	assert.Empty(t, history)

	var loanIDs []string
	for _, userID := range []string{"U2", "U1", "U2"} {
		loan, err := f.service.Withdraw(ctx, "B1", userID, "2024-06-01")
		require.NoError(t, err)
		loanIDs = append(loanIDs, loan.ID)
		_, err = f.service.Deposit(ctx, "B1", userID)
		require.NoError(t, err)
	}
	// 貸出中の記録も含む
	current, err := f.service.Withdraw(ctx, "B1", "U1", "2024-07-01")
	require.NoError(t, err)
	loanIDs = append(loanIDs, current.ID)

	history, err = f.query.BookHistory(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, loan := range history {
		assert.Equal(t, loanIDs[i], loan.ID)
	}
	assert.NotNil(t, history[0].ReturnDate)
	assert.Nil(t, history[3].ReturnDate)

	users, err := f.query.BookHistoryUsers(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U2", "U1"}, users)
}

func TestQuery_History_UnknownBook(t *testing.T) {
	f := newFixture(t)

	_, err := f.query.BookHistory(context.Background(), "missing")
	assertAPIError(t, err, model.CategoryNotFound, "Book doesn't exist")

	_, err = f.query.BookHistoryUsers(context.Background(), "missing")
	assertAPIError(t, err, model.CategoryNotFound, "Book doesn't exist")
}

type failingBooks struct{ repository.BookRepository }

func (failingBooks) FindByID(context.Context, string) (*model.Book, error) {
	return nil, errors.New("connection refused")
}

func TestQuery_StorageFailure(t *testing.T) {
	f := newFixture(t)
	q := NewQuery(failingBooks{}, f.store.Loans(), f.store.Reservations())

	_, err := q.CurrentLoan(context.Background(), "B1")
	assertAPIError(t, err, model.CategoryStorage, "Couldn't get book")
}
