// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorCategory はエラーの分類を表す。制御フローはこの分類だけで判断する。
type ErrorCategory string

const (
	// CategoryNotFound は参照先の蔵書・ユーザー・貸出・予約が存在しないことを表す。
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryInvalidRequest は必須項目の欠落または形式不正を表す。
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	// CategoryInvalidState は現在の蔵書状態では許されない操作を表す。
	CategoryInvalidState ErrorCategory = "invalid_state"
	// CategoryQuotaExceeded はユーザーの予約数が上限に達していることを表す。
	CategoryQuotaExceeded ErrorCategory = "quota_exceeded"
	// CategoryStorage はレコードストアのトランザクションがコミットできなかったことを表す。
	CategoryStorage ErrorCategory = "storage"
)

// APIError は統一エラーフォーマットを表す。
// Message はレスポンスにそのまま返す文言。Err は内部原因でログにのみ出力する。
type APIError struct {
	Code     string        // エラーコード
	Message  string        // エラーメッセージ
	Category ErrorCategory // 分類
	Err      error         // 内部原因（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeBookNotFound        = "BOOK_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeLoanNotFound        = "LOAN_NOT_FOUND"
	ErrCodeReservationNotFound = "RESERVATION_NOT_FOUND"
	ErrCodeUserIDRequired      = "USER_ID_REQUIRED"
	ErrCodeDueRequired         = "DUE_REQUIRED"
	ErrCodeInvalidDue          = "INVALID_DUE"
	ErrCodeInvalidBody         = "INVALID_BODY"
	ErrCodeTitleRequired       = "TITLE_REQUIRED"
	ErrCodeNameRequired        = "NAME_REQUIRED"
	ErrCodeAlreadyOnLoan       = "ALREADY_ON_LOAN"
	ErrCodeReserved            = "RESERVED"
	ErrCodeNotOnLoan           = "NOT_ON_LOAN"
	ErrCodeAlreadyReserved     = "ALREADY_RESERVED"
	ErrCodeNotReserved         = "NOT_RESERVED"
	ErrCodeLoanReturned        = "LOAN_RETURNED"
	ErrCodeReservationLimit    = "RESERVATION_LIMIT"
	ErrCodeStorage             = "STORAGE_FAILURE"
)

// IsCategory はerrが指定分類のAPIErrorであれば true を返す。
func IsCategory(err error, category ErrorCategory) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}

func notFound(code, message string) *APIError {
	return &APIError{Code: code, Message: message, Category: CategoryNotFound}
}

func invalidRequest(code, message string) *APIError {
	return &APIError{Code: code, Message: message, Category: CategoryInvalidRequest}
}

func invalidState(code, message string) *APIError {
	return &APIError{Code: code, Message: message, Category: CategoryInvalidState}
}

// NewBookNotFoundError は蔵書未検出エラーを生成する。
func NewBookNotFoundError() *APIError {
	return notFound(ErrCodeBookNotFound, "Book doesn't exist")
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return notFound(ErrCodeUserNotFound, "User doesn't exist")
}

// NewLoanNotFoundError は貸出記録未検出エラーを生成する。
func NewLoanNotFoundError() *APIError {
	return notFound(ErrCodeLoanNotFound, "Loan doesn't exist")
}

// NewReservationNotFoundError は予約未検出エラーを生成する。
func NewReservationNotFoundError() *APIError {
	return notFound(ErrCodeReservationNotFound, "Reservation doesn't exist")
}

// NewUserIDRequiredError はユーザーID未指定エラーを生成する。
func NewUserIDRequiredError() *APIError {
	return invalidRequest(ErrCodeUserIDRequired, "No user ID specified")
}

// NewDueRequiredError は返却期限未指定エラーを生成する。
func NewDueRequiredError() *APIError {
	return invalidRequest(ErrCodeDueRequired, "No due date specified")
}

// NewInvalidDueError は返却期限の形式不正エラーを生成する。
func NewInvalidDueError() *APIError {
	return invalidRequest(ErrCodeInvalidDue, "Invalid due date")
}

// NewInvalidBodyError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidBodyError() *APIError {
	return invalidRequest(ErrCodeInvalidBody, "Invalid request body")
}

// NewTitleRequiredError は蔵書タイトル未指定エラーを生成する。
func NewTitleRequiredError() *APIError {
	return invalidRequest(ErrCodeTitleRequired, "No title specified")
}

// NewNameRequiredError はユーザー名未指定エラーを生成する。
func NewNameRequiredError() *APIError {
	return invalidRequest(ErrCodeNameRequired, "No name specified")
}

// NewAlreadyOnLoanError は貸出中の蔵書を貸し出そうとした場合のエラーを生成する。
func NewAlreadyOnLoanError() *APIError {
	return invalidState(ErrCodeAlreadyOnLoan, "Book already on loan")
}

// NewReservedError は他ユーザーの予約がある蔵書を貸し出そうとした場合のエラーを生成する。
func NewReservedError() *APIError {
	return invalidState(ErrCodeReserved, "Book reserved")
}

// NewNotOnLoanError は貸出中でない蔵書に対する返却・延長のエラーを生成する。
func NewNotOnLoanError() *APIError {
	return invalidState(ErrCodeNotOnLoan, "Book not on loan")
}

// NewAlreadyReservedError は予約済みの蔵書を予約しようとした場合のエラーを生成する。
func NewAlreadyReservedError() *APIError {
	return invalidState(ErrCodeAlreadyReserved, "Book already reserved")
}

// NewNotReservedError は予約のない蔵書に対する予約取得・取消のエラーを生成する。
func NewNotReservedError() *APIError {
	return invalidState(ErrCodeNotReserved, "Book not reserved")
}

// NewLoanReturnedError は返却済みの貸出を延長しようとした場合のエラーを生成する。
func NewLoanReturnedError() *APIError {
	return invalidState(ErrCodeLoanReturned, "Loan already returned")
}

// NewReservationLimitError は予約上限エラーを生成する。
func NewReservationLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeReservationLimit,
		Message:  "Too many books already reserved",
		Category: CategoryQuotaExceeded,
	}
}

// NewStorageError はレコードストア障害エラーを生成する。
// message は "Couldn't withdraw book" のような利用者向けの文言。
func NewStorageError(message string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  message,
		Category: CategoryStorage,
		Err:      cause,
	}
}
