package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/apollo/internal/model"
)

// PostgresStore はPostgreSQLを使用したレコードストア。
// トランザクションはREPEATABLE READで実行し、読み取りはSELECT ... FOR UPDATEで行ロックを取る。
// ロックはユーザー行（ID昇順）、蔵書行、貸出・予約行の順に取る。
type PostgresStore struct {
	db           *sql.DB
	books        *PostgresBookRepo
	users        *PostgresUserRepo
	loans        *PostgresLoanRepo
	reservations *PostgresReservationRepo
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:           db,
		books:        NewPostgresBookRepo(db),
		users:        NewPostgresUserRepo(db),
		loans:        NewPostgresLoanRepo(db),
		reservations: NewPostgresReservationRepo(db),
	}
}

// Books は蔵書リポジトリを返す。
func (s *PostgresStore) Books() BookRepository { return s.books }

// Users はユーザーリポジトリを返す。
func (s *PostgresStore) Users() UserRepository { return s.users }

// Loans は貸出リポジトリを返す。
func (s *PostgresStore) Loans() LoanRepository { return s.loans }

// Reservations は予約リポジトリを返す。
func (s *PostgresStore) Reservations() ReservationRepository { return s.reservations }

// Ping はデータベースへの疎通を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// WithinTx はfnを1つのトランザクションとして実行する。
// fnがエラーを返すかpanicした場合はロールバックし、正常に返った場合はコミットする。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// panic時もここでロールバックされる
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		// Commit失敗時もdatabase/sqlはトランザクションを終了済みとする
		committed = true
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// IsRetryable はerrが同時実行の競合に起因し、呼び出し側で再読み込みの上で再試行できるものかを判定する。
// シリアライズ失敗・デッドロック・一意制約違反（部分ユニークインデックスによる二重貸出・二重予約の検出）が該当する。
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "23505":
		return true
	default:
		return false
	}
}

// rowScanner は*sql.Rowと*sql.Rowsに共通のScanを表す。
type rowScanner interface {
	Scan(dest ...any) error
}

const (
	bookColumns        = `id, title, author, tags, loan_id, reservation_id, created_at, updated_at`
	userColumns        = `id, name, loan_ids, reservation_ids, created_at`
	loanColumns        = `id, user_id, book_id, due, return_date, created_at`
	reservationColumns = `id, user_id, book_id, created_at`
)

func scanBook(row rowScanner) (*model.Book, error) {
	book := &model.Book{}
	var loanID, reservationID sql.NullString
	var tags pq.StringArray
	if err := row.Scan(&book.ID, &book.Title, &book.Author, &tags, &loanID, &reservationID, &book.CreatedAt, &book.UpdatedAt); err != nil {
		return nil, err
	}
	book.Tags = []string(tags)
	book.LoanID = loanID.String
	book.ReservationID = reservationID.String
	return book, nil
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var loanIDs, reservationIDs pq.StringArray
	if err := row.Scan(&user.ID, &user.Name, &loanIDs, &reservationIDs, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.LoanIDs = []string(loanIDs)
	user.ReservationIDs = []string(reservationIDs)
	return user, nil
}

func scanLoan(row rowScanner) (*model.Loan, error) {
	loan := &model.Loan{}
	var returnDate sql.NullTime
	if err := row.Scan(&loan.ID, &loan.UserID, &loan.BookID, &loan.Due, &returnDate, &loan.CreatedAt); err != nil {
		return nil, err
	}
	if returnDate.Valid {
		t := returnDate.Time
		loan.ReturnDate = &t
	}
	return loan, nil
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	r := &model.Reservation{}
	if err := row.Scan(&r.ID, &r.UserID, &r.BookID, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// pgTx はsql.TxをTxインターフェースに適合させる。
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FindUser(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(t.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

func (t *pgTx) FindBook(ctx context.Context, id string) (*model.Book, error) {
	book, err := scanBook(t.tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock book: %w", err)
	}
	return book, nil
}

func (t *pgTx) FindLoan(ctx context.Context, id string) (*model.Loan, error) {
	loan, err := scanLoan(t.tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan: %w", err)
	}
	return loan, nil
}

func (t *pgTx) FindReservation(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	return r, nil
}

func (t *pgTx) FindBookHolders(ctx context.Context, bookID string) (string, string, error) {
	var borrowerID, holderID string
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(l.user_id, ''), COALESCE(r.user_id, '')
		 FROM books b
		 LEFT JOIN loans l ON l.id = b.loan_id
		 LEFT JOIN reservations r ON r.id = b.reservation_id
		 WHERE b.id = $1`, bookID,
	).Scan(&borrowerID, &holderID)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read book holders: %w", err)
	}
	return borrowerID, holderID, nil
}

func (t *pgTx) CreateLoan(ctx context.Context, loan *model.Loan) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO loans (id, user_id, book_id, due, return_date, created_at)
		 VALUES ($1, $2, $3, $4, NULL, $5)`,
		loan.ID, loan.UserID, loan.BookID, loan.Due, loan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

func (t *pgTx) SetLoanReturnDate(ctx context.Context, loanID string, at time.Time) error {
	return t.execOne(ctx, "set loan return date",
		`UPDATE loans SET return_date = $2 WHERE id = $1`, loanID, at)
}

func (t *pgTx) SetLoanDue(ctx context.Context, loanID string, due time.Time) error {
	return t.execOne(ctx, "set loan due",
		`UPDATE loans SET due = $2 WHERE id = $1`, loanID, due)
}

func (t *pgTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, book_id, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.UserID, r.BookID, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteReservation(ctx context.Context, reservationID string) error {
	return t.execOne(ctx, "delete reservation",
		`DELETE FROM reservations WHERE id = $1`, reservationID)
}

func (t *pgTx) AppendUserLoan(ctx context.Context, userID, loanID string) error {
	return t.execOne(ctx, "append user loan",
		`UPDATE users SET loan_ids = array_append(loan_ids, $2) WHERE id = $1`, userID, loanID)
}

func (t *pgTx) RemoveUserLoan(ctx context.Context, userID, loanID string) error {
	return t.execOne(ctx, "remove user loan",
		`UPDATE users SET loan_ids = array_remove(loan_ids, $2) WHERE id = $1`, userID, loanID)
}

func (t *pgTx) AppendUserReservation(ctx context.Context, userID, reservationID string) error {
	return t.execOne(ctx, "append user reservation",
		`UPDATE users SET reservation_ids = array_append(reservation_ids, $2) WHERE id = $1`, userID, reservationID)
}

func (t *pgTx) RemoveUserReservation(ctx context.Context, userID, reservationID string) error {
	return t.execOne(ctx, "remove user reservation",
		`UPDATE users SET reservation_ids = array_remove(reservation_ids, $2) WHERE id = $1`, userID, reservationID)
}

func (t *pgTx) SetBookLoan(ctx context.Context, bookID, loanID string) error {
	return t.execOne(ctx, "set book loan",
		`UPDATE books SET loan_id = $2, updated_at = NOW() WHERE id = $1`, bookID, nullString(loanID))
}

func (t *pgTx) SetBookReservation(ctx context.Context, bookID, reservationID string) error {
	return t.execOne(ctx, "set book reservation",
		`UPDATE books SET reservation_id = $2, updated_at = NOW() WHERE id = $1`, bookID, nullString(reservationID))
}

// execOne は1行だけを対象とする書き込みを実行する。対象行がなければErrNotFoundを返す。
func (t *pgTx) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to %s: %w", op, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
