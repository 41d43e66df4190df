package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/apollo/internal/model"
)

// PostgresReservationRepo はPostgreSQLを使用した予約リポジトリ。
type PostgresReservationRepo struct {
	db *sql.DB
}

// NewPostgresReservationRepo はPostgresReservationRepoを生成する。
func NewPostgresReservationRepo(db *sql.DB) *PostgresReservationRepo {
	return &PostgresReservationRepo{db: db}
}

// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
func (r *PostgresReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	reservation, err := scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation by ID: %w", err)
	}
	return reservation, nil
}

// compile-time interface check
var _ ReservationRepository = (*PostgresReservationRepo)(nil)
