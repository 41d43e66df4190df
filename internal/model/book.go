// Package model はドメインモデルを定義する。
package model

import "time"

// Book は貸出・予約の対象となる蔵書を表す。
// LoanID と ReservationID は空文字列のとき未設定を意味する。
type Book struct {
	ID            string
	Title         string
	Author        string
	Tags          []string
	LoanID        string
	ReservationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BookState は蔵書の貸出状態を表す。保存はせず LoanID と ReservationID から導出する。
type BookState string

const (
	// BookStateAvailable は貸出も予約もされていない状態。
	BookStateAvailable BookState = "available"
	// BookStateReserved は予約のみ存在する状態。
	BookStateReserved BookState = "reserved"
	// BookStateOnLoan は貸出中で予約がない状態。
	BookStateOnLoan BookState = "on_loan"
	// BookStateOnLoanAndReserved は貸出中かつ別ユーザーの予約が待機している状態。
	BookStateOnLoanAndReserved BookState = "on_loan_and_reserved"
)

// State は蔵書の現在の貸出状態を返す。
func (b *Book) State() BookState {
	switch {
	case b.LoanID != "" && b.ReservationID != "":
		return BookStateOnLoanAndReserved
	case b.LoanID != "":
		return BookStateOnLoan
	case b.ReservationID != "":
		return BookStateReserved
	default:
		return BookStateAvailable
	}
}

// Clone は Tags を含めた深いコピーを返す。
func (b *Book) Clone() *Book {
	c := *b
	c.Tags = append([]string(nil), b.Tags...)
	return &c
}
