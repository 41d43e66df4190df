// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/apollo/internal/model"
)

// ErrNotFound は書き込み対象の行が存在しない場合に返される。
var ErrNotFound = errors.New("record not found")

// BookRepository は蔵書データの永続化インターフェース。
type BookRepository interface {
	// FindByID は指定IDの蔵書を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// Create は蔵書を作成する。
	Create(ctx context.Context, book *model.Book) error

	// UpdateMetadata はタイトル・著者・タグのみを更新する。貸出状態には触れない。
	UpdateMetadata(ctx context.Context, book *model.Book) error

	// Delete は指定IDの蔵書を削除する。貸出・予約記録は削除しない。
	Delete(ctx context.Context, id string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// LoanRepository は貸出記録の参照インターフェース。
type LoanRepository interface {
	// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Loan, error)

	// ListByBookID は蔵書の全貸出記録を作成日時の昇順で返す。
	ListByBookID(ctx context.Context, bookID string) ([]*model.Loan, error)
}

// ReservationRepository は予約の参照インターフェース。
type ReservationRepository interface {
	// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Reservation, error)
}

// Tx はトランザクション内で使う読み書きハンドル。
// 読み取りは同一トランザクション内の書き込みを反映し、対象行をロックする。
// 見つからない場合はnilを返す。
type Tx interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
	FindBook(ctx context.Context, id string) (*model.Book, error)
	FindLoan(ctx context.Context, id string) (*model.Loan, error)
	FindReservation(ctx context.Context, id string) (*model.Reservation, error)

	// FindBookHolders は蔵書の現在の借り手と予約者のユーザーIDを返す。該当しなければ空文字列。
	// 行ロックを取らない。ロックを取る行とその順序を決めるための事前読み取りに使う。
	FindBookHolders(ctx context.Context, bookID string) (borrowerID, holderID string, err error)

	// CreateLoan は貸出記録を追加する。
	CreateLoan(ctx context.Context, loan *model.Loan) error
	// SetLoanReturnDate は貸出の返却日時を設定する。
	SetLoanReturnDate(ctx context.Context, loanID string, at time.Time) error
	// SetLoanDue は貸出の返却期限を更新する。
	SetLoanDue(ctx context.Context, loanID string, due time.Time) error

	// CreateReservation は予約を追加する。
	CreateReservation(ctx context.Context, reservation *model.Reservation) error
	// DeleteReservation は予約を削除する。
	DeleteReservation(ctx context.Context, reservationID string) error

	// AppendUserLoan はユーザーの貸出ID集合に追加する。
	AppendUserLoan(ctx context.Context, userID, loanID string) error
	// RemoveUserLoan はユーザーの貸出ID集合から取り除く。含まれていなければ何もしない。
	RemoveUserLoan(ctx context.Context, userID, loanID string) error
	// AppendUserReservation はユーザーの予約ID集合に追加する。
	AppendUserReservation(ctx context.Context, userID, reservationID string) error
	// RemoveUserReservation はユーザーの予約ID集合から取り除く。含まれていなければ何もしない。
	RemoveUserReservation(ctx context.Context, userID, reservationID string) error

	// SetBookLoan は蔵書の貸出IDを設定する。空文字列で解除する。
	SetBookLoan(ctx context.Context, bookID, loanID string) error
	// SetBookReservation は蔵書の予約IDを設定する。空文字列で解除する。
	SetBookReservation(ctx context.Context, bookID, reservationID string) error
}

// TxRunner は作業単位としてのトランザクションを提供する。
// fnが正常に返ればコミットし、エラーを返すかpanicした場合はロールバックする。
// コミットとロールバックはTxRunnerだけが行う。
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store はレコードストア全体を表す。
type Store interface {
	TxRunner
	Books() BookRepository
	Users() UserRepository
	Loans() LoanRepository
	Reservations() ReservationRepository
	Ping(ctx context.Context) error
	Close() error
}
