package lending

import (
	"context"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
)

// Query は貸出・予約の参照用ファサード。書き込みは行わない。
type Query struct {
	books        repository.BookRepository
	loans        repository.LoanRepository
	reservations repository.ReservationRepository
}

// NewQuery はQueryを生成する。
func NewQuery(
	books repository.BookRepository,
	loans repository.LoanRepository,
	reservations repository.ReservationRepository,
) *Query {
	return &Query{
		books:        books,
		loans:        loans,
		reservations: reservations,
	}
}

// CurrentLoan は蔵書の現在の貸出を返す。
func (q *Query) CurrentLoan(ctx context.Context, bookID string) (*model.Loan, error) {
	book, err := q.findBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.LoanID == "" {
		return nil, model.NewNotOnLoanError()
	}

	loan, err := q.loans.FindByID(ctx, book.LoanID)
	if err != nil {
		return nil, model.NewStorageError("Couldn't get loan", err)
	}
	if loan == nil {
		return nil, model.NewLoanNotFoundError()
	}
	return loan, nil
}

// CurrentReservation は蔵書の現在の予約を返す。
func (q *Query) CurrentReservation(ctx context.Context, bookID string) (*model.Reservation, error) {
	book, err := q.findBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.ReservationID == "" {
		return nil, model.NewNotReservedError()
	}

	reservation, err := q.reservations.FindByID(ctx, book.ReservationID)
	if err != nil {
		return nil, model.NewStorageError("Couldn't get reservation", err)
	}
	if reservation == nil {
		return nil, model.NewReservationNotFoundError()
	}
	return reservation, nil
}

// BookHistory は蔵書の全貸出記録を古い順に返す。返却済みの記録も含む。
// 蔵書削除後の履歴は参照できない。
func (q *Query) BookHistory(ctx context.Context, bookID string) ([]*model.Loan, error) {
	if _, err := q.findBook(ctx, bookID); err != nil {
		return nil, err
	}
	loans, err := q.loans.ListByBookID(ctx, bookID)
	if err != nil {
		return nil, model.NewStorageError("Couldn't get loan history", err)
	}
	return loans, nil
}

// BookHistoryUsers は蔵書を借りたことのあるユーザーIDを初回貸出の順に重複なく返す。
func (q *Query) BookHistoryUsers(ctx context.Context, bookID string) ([]string, error) {
	loans, err := q.BookHistory(ctx, bookID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(loans))
	userIDs := make([]string, 0, len(loans))
	for _, loan := range loans {
		if _, ok := seen[loan.UserID]; ok {
			continue
		}
		seen[loan.UserID] = struct{}{}
		userIDs = append(userIDs, loan.UserID)
	}
	return userIDs, nil
}

func (q *Query) findBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := q.books.FindByID(ctx, bookID)
	if err != nil {
		return nil, model.NewStorageError("Couldn't get book", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError()
	}
	return book, nil
}
