package model

import (
	"slices"
	"time"
)

// User は貸出・予約を行う利用者を表す。
// LoanIDs は返却前の貸出、ReservationIDs は保持中の予約の識別子集合。
type User struct {
	ID             string
	Name           string
	LoanIDs        []string
	ReservationIDs []string
	CreatedAt      time.Time
}

// HasLoan は指定の貸出IDを保持していれば true を返す。
func (u *User) HasLoan(loanID string) bool {
	return slices.Contains(u.LoanIDs, loanID)
}

// HasReservation は指定の予約IDを保持していれば true を返す。
func (u *User) HasReservation(reservationID string) bool {
	return slices.Contains(u.ReservationIDs, reservationID)
}

// Clone はID集合を含めた深いコピーを返す。
func (u *User) Clone() *User {
	c := *u
	c.LoanIDs = append([]string(nil), u.LoanIDs...)
	c.ReservationIDs = append([]string(nil), u.ReservationIDs...)
	return &c
}
