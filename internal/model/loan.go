package model

import "time"

// Loan は蔵書の貸出記録を表す。
// 返却時に ReturnDate が一度だけ設定され、レコード自体は履歴として残る。
type Loan struct {
	ID         string
	UserID     string
	BookID     string
	Due        time.Time
	ReturnDate *time.Time
	CreatedAt  time.Time
}

// Active は返却前の貸出であれば true を返す。
func (l *Loan) Active() bool {
	return l.ReturnDate == nil
}

// Clone は ReturnDate を含めた深いコピーを返す。
func (l *Loan) Clone() *Loan {
	c := *l
	if l.ReturnDate != nil {
		t := *l.ReturnDate
		c.ReturnDate = &t
	}
	return &c
}

// Reservation はユーザーによる蔵書の予約を表す。
// 取り消しまたは予約者本人の貸出時に削除される。
type Reservation struct {
	ID        string
	UserID    string
	BookID    string
	CreatedAt time.Time
}
