// Package lending は蔵書の貸出・返却・予約・予約取消・延長の状態遷移を提供する。
//
// 各操作は前提条件の確認と書き込みを1つのトランザクション内で行い、
// 蔵書・ユーザー・貸出（または予約）の3レコードを常に整合した状態に保つ。
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/apollo/internal/model"
	"github.com/hitoshi/apollo/internal/repository"
)

// 操作名。ログとメトリクスのラベルに使用する。
const (
	OpWithdraw          = "withdraw"
	OpDeposit           = "deposit"
	OpReserve           = "reserve"
	OpCancelReservation = "cancel_reservation"
	OpRenew             = "renew"
)

// MetricsRecorder は貸出操作の結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordOperation(operation, result string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, string, time.Duration) {}

// ServiceConfig はServiceの設定を保持する。
type ServiceConfig struct {
	// ReservationLimit はユーザーが同時に保持できる予約数の上限。
	ReservationLimit int
	// Metrics は省略時に記録しない。
	Metrics MetricsRecorder
	// Logger は省略時にslog.Default()を使用する。
	Logger *slog.Logger
	// Now は省略時にtime.Nowを使用する。
	Now func() time.Time
	// NewID は省略時にUUIDv4を生成する。
	NewID func() string
}

// Service は貸出状態遷移のサービス層。
type Service struct {
	tx               repository.TxRunner
	reservationLimit int
	metrics          MetricsRecorder
	logger           *slog.Logger
	now              func() time.Time
	newID            func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(tx repository.TxRunner, cfg ServiceConfig) *Service {
	s := &Service{
		tx:               tx,
		reservationLimit: cfg.ReservationLimit,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		now:              cfg.Now,
		newID:            cfg.NewID,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Withdraw は蔵書をユーザーに貸し出す。
// 予約がある場合は予約者本人のみ貸出でき、その予約は削除される。
func (s *Service) Withdraw(ctx context.Context, bookID, userID, due string) (*model.Loan, error) {
	if userID == "" {
		return nil, s.reject(ctx, OpWithdraw, bookID, userID, model.NewUserIDRequiredError())
	}
	dueAt, err := ParseDue(due)
	if err != nil {
		return nil, s.reject(ctx, OpWithdraw, bookID, userID, err)
	}

	var loan *model.Loan
	err = s.run(ctx, OpWithdraw, bookID, userID, "Couldn't withdraw book", func(ctx context.Context, tx repository.Tx) error {
		user, book, err := findUserAndBook(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		if book.LoanID != "" {
			return model.NewAlreadyOnLoanError()
		}

		var reservation *model.Reservation
		if book.ReservationID != "" {
			reservation, err = tx.FindReservation(ctx, book.ReservationID)
			if err != nil {
				return err
			}
			if reservation != nil && reservation.UserID != user.ID {
				return model.NewReservedError()
			}
		}

		now := s.now()
		loan = &model.Loan{
			ID:        s.newID(),
			UserID:    user.ID,
			BookID:    book.ID,
			Due:       dueAt,
			CreatedAt: now,
		}

		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		if err := tx.AppendUserLoan(ctx, user.ID, loan.ID); err != nil {
			return err
		}
		if book.ReservationID != "" {
			if err := tx.RemoveUserReservation(ctx, user.ID, book.ReservationID); err != nil {
				return err
			}
		}
		if err := tx.SetBookLoan(ctx, book.ID, loan.ID); err != nil {
			return err
		}
		if book.ReservationID != "" {
			if err := tx.SetBookReservation(ctx, book.ID, ""); err != nil {
				return err
			}
		}
		// 予約レコードが既に欠落している場合は蔵書側の参照だけを解除する
		if reservation != nil {
			if err := tx.DeleteReservation(ctx, reservation.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Deposit は貸出中の蔵書を返却する。
// 貸出記録は削除せず返却日時を設定して履歴として残す。
func (s *Service) Deposit(ctx context.Context, bookID, userID string) (*model.Loan, error) {
	if userID == "" {
		return nil, s.reject(ctx, OpDeposit, bookID, userID, model.NewUserIDRequiredError())
	}

	var loan *model.Loan
	err := s.run(ctx, OpDeposit, bookID, userID, "Couldn't deposit book", func(ctx context.Context, tx repository.Tx) error {
		// 借り手の行も書き換えるため、呼び出し元と合わせてロックする
		borrowerID, _, err := tx.FindBookHolders(ctx, bookID)
		if err != nil {
			return err
		}
		user, book, err := lockUsersAndBook(ctx, tx, userID, bookID, borrowerID)
		if err != nil {
			return err
		}
		if book.LoanID == "" {
			return model.NewNotOnLoanError()
		}
		loan, err = tx.FindLoan(ctx, book.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError()
		}
		if loan.UserID != user.ID && loan.UserID != borrowerID {
			return fmt.Errorf("borrower of book %s changed before lock", book.ID)
		}
		if loan.UserID != user.ID {
			s.logger.WarnContext(ctx, "book deposited by non-borrower",
				slog.String("book_id", book.ID),
				slog.String("user_id", user.ID),
				slog.String("borrower_id", loan.UserID),
			)
		}

		// 返却日時は一度だけ設定する
		if loan.Active() {
			returnedAt := s.now()
			if err := tx.SetLoanReturnDate(ctx, loan.ID, returnedAt); err != nil {
				return err
			}
			loan.ReturnDate = &returnedAt
		}
		// 借り手の貸出ID集合から取り除く
		if err := tx.RemoveUserLoan(ctx, loan.UserID, loan.ID); err != nil {
			return err
		}
		return tx.SetBookLoan(ctx, book.ID, "")
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Reserve は蔵書を予約する。他ユーザーへの貸出中でも予約できる。
func (s *Service) Reserve(ctx context.Context, bookID, userID string) (*model.Reservation, error) {
	if userID == "" {
		return nil, s.reject(ctx, OpReserve, bookID, userID, model.NewUserIDRequiredError())
	}

	var reservation *model.Reservation
	err := s.run(ctx, OpReserve, bookID, userID, "Couldn't reserve book", func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.FindUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return model.NewUserNotFoundError()
		}
		if len(user.ReservationIDs) >= s.reservationLimit {
			return model.NewReservationLimitError()
		}

		book, err := tx.FindBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book == nil {
			return model.NewBookNotFoundError()
		}
		if book.ReservationID != "" {
			return model.NewAlreadyReservedError()
		}

		reservation = &model.Reservation{
			ID:        s.newID(),
			UserID:    user.ID,
			BookID:    book.ID,
			CreatedAt: s.now(),
		}
		if err := tx.CreateReservation(ctx, reservation); err != nil {
			return err
		}
		if err := tx.AppendUserReservation(ctx, user.ID, reservation.ID); err != nil {
			return err
		}
		return tx.SetBookReservation(ctx, book.ID, reservation.ID)
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// CancelReservation は蔵書の予約を取り消す。
// 取消を行うユーザーが予約者本人であることは要求しない。
func (s *Service) CancelReservation(ctx context.Context, bookID, userID string) error {
	if userID == "" {
		return s.reject(ctx, OpCancelReservation, bookID, userID, model.NewUserIDRequiredError())
	}

	return s.run(ctx, OpCancelReservation, bookID, userID, "Couldn't remove reservation", func(ctx context.Context, tx repository.Tx) error {
		// 予約者の行も書き換えるため、呼び出し元と合わせてロックする
		_, holderID, err := tx.FindBookHolders(ctx, bookID)
		if err != nil {
			return err
		}
		user, book, err := lockUsersAndBook(ctx, tx, userID, bookID, holderID)
		if err != nil {
			return err
		}
		if book.ReservationID == "" {
			return model.NewNotReservedError()
		}
		reservation, err := tx.FindReservation(ctx, book.ReservationID)
		if err != nil {
			return err
		}
		if reservation == nil {
			return model.NewReservationNotFoundError()
		}
		if reservation.UserID != user.ID && reservation.UserID != holderID {
			return fmt.Errorf("holder of book %s changed before lock", book.ID)
		}
		if reservation.UserID != user.ID {
			s.logger.WarnContext(ctx, "reservation cancelled by non-holder",
				slog.String("book_id", book.ID),
				slog.String("user_id", user.ID),
				slog.String("holder_id", reservation.UserID),
			)
		}

		if err := tx.DeleteReservation(ctx, reservation.ID); err != nil {
			return err
		}
		// 予約者の予約ID集合から取り除く
		if err := tx.RemoveUserReservation(ctx, reservation.UserID, reservation.ID); err != nil {
			return err
		}
		return tx.SetBookReservation(ctx, book.ID, "")
	})
}

// Renew は貸出中の蔵書の返却期限を更新する。返却済みの貸出は延長できない。
func (s *Service) Renew(ctx context.Context, bookID, userID, due string) (*model.Loan, error) {
	if userID == "" {
		return nil, s.reject(ctx, OpRenew, bookID, userID, model.NewUserIDRequiredError())
	}
	dueAt, err := ParseDue(due)
	if err != nil {
		return nil, s.reject(ctx, OpRenew, bookID, userID, err)
	}

	var loan *model.Loan
	err = s.run(ctx, OpRenew, bookID, userID, "Couldn't renew book", func(ctx context.Context, tx repository.Tx) error {
		_, book, err := findUserAndBook(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		if book.LoanID == "" {
			return model.NewNotOnLoanError()
		}
		loan, err = tx.FindLoan(ctx, book.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError()
		}
		if !loan.Active() {
			return model.NewLoanReturnedError()
		}
		if err := tx.SetLoanDue(ctx, loan.ID, dueAt); err != nil {
			return err
		}
		loan.Due = dueAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// findUserAndBook はユーザー、蔵書の順にロックを取得する。
func findUserAndBook(ctx context.Context, tx repository.Tx, userID, bookID string) (*model.User, *model.Book, error) {
	return lockUsersAndBook(ctx, tx, userID, bookID)
}

// lockUsersAndBook は呼び出し元とothersのユーザー行をID昇順でロックし、その後に蔵書行をロックする。
// 全操作でこの順序を守る。othersの空文字列と重複は無視し、存在しないユーザーはエラーにしない。
func lockUsersAndBook(ctx context.Context, tx repository.Tx, userID, bookID string, others ...string) (*model.User, *model.Book, error) {
	ids := []string{userID}
	for _, id := range others {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	var user *model.User
	for _, id := range ids {
		u, err := tx.FindUser(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if id == userID {
			user = u
		}
	}
	if user == nil {
		return nil, nil, model.NewUserNotFoundError()
	}

	book, err := tx.FindBook(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	if book == nil {
		return nil, nil, model.NewBookNotFoundError()
	}
	return user, book, nil
}

// run はfnを1つのトランザクションとして実行し、結果をログとメトリクスに記録する。
// fnが返したAPIError以外のエラーはストレージ障害としてfailMessageで包む。
func (s *Service) run(ctx context.Context, op, bookID, userID, failMessage string, fn func(ctx context.Context, tx repository.Tx) error) error {
	start := time.Now()
	err := s.tx.WithinTx(ctx, fn)

	var apiErr *model.APIError
	if err != nil && !errors.As(err, &apiErr) {
		err = model.NewStorageError(failMessage, err)
	}
	s.observe(ctx, op, bookID, userID, time.Since(start), err)
	return err
}

// reject はトランザクション開始前のリクエスト検証エラーを記録して返す。
func (s *Service) reject(ctx context.Context, op, bookID, userID string, err error) error {
	s.observe(ctx, op, bookID, userID, 0, err)
	return err
}

func (s *Service) observe(ctx context.Context, op, bookID, userID string, d time.Duration, err error) {
	attrs := []any{
		slog.String("operation", op),
		slog.String("book_id", bookID),
		slog.String("user_id", userID),
	}

	if err == nil {
		s.metrics.RecordOperation(op, "success", d)
		s.logger.InfoContext(ctx, "lending operation succeeded", attrs...)
		return
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		s.metrics.RecordOperation(op, string(model.CategoryStorage), d)
		s.logger.ErrorContext(ctx, "lending operation failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}

	s.metrics.RecordOperation(op, string(apiErr.Category), d)
	attrs = append(attrs, slog.String("error_code", apiErr.Code))
	if apiErr.Category == model.CategoryStorage {
		s.logger.ErrorContext(ctx, "lending transaction aborted",
			append(attrs,
				slog.String("error", apiErr.Error()),
				slog.Bool("retryable", repository.IsRetryable(apiErr.Err)),
			)...,
		)
		return
	}
	s.logger.InfoContext(ctx, "lending precondition failed", append(attrs, slog.String("reason", apiErr.Message))...)
}
