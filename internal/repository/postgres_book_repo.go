package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/lib/pq"

	"github.com/hitoshi/apollo/internal/model"
)

const dialectPostgres = "postgres"

// PostgresBookRepo はPostgreSQLを使用した蔵書リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// FindByID は指定IDの蔵書を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}
	return book, nil
}

// Create は蔵書を作成する。貸出・予約は未設定の状態で作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, tags, loan_id, reservation_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULL, NULL, $5, $6)`,
		book.ID, book.Title, book.Author, pq.Array(nonNil(book.Tags)), book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// UpdateMetadata はタイトル・著者・タグのみを更新する。
// loan_id と reservation_id は貸出トランザクションだけが更新する。
func (r *PostgresBookRepo) UpdateMetadata(ctx context.Context, book *model.Book) error {
	query, args, err := goqu.Dialect(dialectPostgres).
		Update("books").
		Prepared(true).
		Set(goqu.Record{
			"title":      book.Title,
			"author":     book.Author,
			"tags":       pq.Array(nonNil(book.Tags)),
			"updated_at": book.UpdatedAt,
		}).
		Where(goqu.Ex{"id": book.ID}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build book update query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("book %s: %w", book.ID, ErrNotFound)
	}
	return nil
}

// Delete は指定IDの蔵書を削除する。
func (r *PostgresBookRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM books WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
