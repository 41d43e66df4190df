package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/hitoshi/apollo/internal/model"
)

// PostgresLoanRepo はPostgreSQLを使用した貸出リポジトリ。
type PostgresLoanRepo struct {
	db *sql.DB
}

// NewPostgresLoanRepo はPostgresLoanRepoを生成する。
func NewPostgresLoanRepo(db *sql.DB) *PostgresLoanRepo {
	return &PostgresLoanRepo{db: db}
}

// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) FindByID(ctx context.Context, id string) (*model.Loan, error) {
	loan, err := scanLoan(r.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan by ID: %w", err)
	}
	return loan, nil
}

// ListByBookID は蔵書の全貸出記録を作成日時の昇順で返す。返却済みの記録も含む。
func (r *PostgresLoanRepo) ListByBookID(ctx context.Context, bookID string) ([]*model.Loan, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From("loans").
		Prepared(true).
		Select("id", "user_id", "book_id", "due", "return_date", "created_at").
		Where(goqu.Ex{"book_id": bookID}).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build loan history query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loans: %w", err)
	}
	return loans, nil
}

// compile-time interface check
var _ LoanRepository = (*PostgresLoanRepo)(nil)
