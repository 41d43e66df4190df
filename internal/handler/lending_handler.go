package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/apollo/internal/model"
)

// LendingServiceInterface は貸出ハンドラーが必要とする状態遷移のインターフェース。
// lending.Serviceが満たす。
type LendingServiceInterface interface {
	Withdraw(ctx context.Context, bookID, userID, due string) (*model.Loan, error)
	Deposit(ctx context.Context, bookID, userID string) (*model.Loan, error)
	Reserve(ctx context.Context, bookID, userID string) (*model.Reservation, error)
	CancelReservation(ctx context.Context, bookID, userID string) error
	Renew(ctx context.Context, bookID, userID, due string) (*model.Loan, error)
}

// LendingQueryInterface は貸出状態の参照インターフェース。
// lending.Queryが満たす。
type LendingQueryInterface interface {
	CurrentLoan(ctx context.Context, bookID string) (*model.Loan, error)
	CurrentReservation(ctx context.Context, bookID string) (*model.Reservation, error)
	BookHistory(ctx context.Context, bookID string) ([]*model.Loan, error)
	BookHistoryUsers(ctx context.Context, bookID string) ([]string, error)
}

// LendingHandler は貸出・返却・予約のHTTPハンドラー。
type LendingHandler struct {
	service LendingServiceInterface
	query   LendingQueryInterface
}

// NewLendingHandler はLendingHandlerを生成する。
func NewLendingHandler(service LendingServiceInterface, query LendingQueryInterface) *LendingHandler {
	return &LendingHandler{
		service: service,
		query:   query,
	}
}

// lendingRequest は貸出系操作のリクエストボディ。dueはwithdrawとrenewでのみ使う。
type lendingRequest struct {
	UserID string `json:"userID"`
	Due    string `json:"due"`
}

func (h *LendingHandler) parse(w http.ResponseWriter, r *http.Request) (string, lendingRequest, bool) {
	var req lendingRequest
	if err := decodeBody(r, &req); err != nil {
		handleServiceError(w, err)
		return "", req, false
	}
	return chi.URLParam(r, "bookID"), req, true
}

// Withdraw は蔵書を貸し出す。
// POST /books/{bookID}/withdraw
func (h *LendingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.parse(w, r)
	if !ok {
		return
	}

	loan, err := h.service.Withdraw(r.Context(), bookID, req.UserID, req.Due)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"loan": toLoanResponse(loan)})
}

// Deposit は蔵書を返却する。
// POST /books/{bookID}/deposit
func (h *LendingHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.parse(w, r)
	if !ok {
		return
	}

	loan, err := h.service.Deposit(r.Context(), bookID, req.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"loan": toLoanResponse(loan)})
}

// Renew は貸出の返却期限を延長する。
// POST /books/{bookID}/renew
func (h *LendingHandler) Renew(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.parse(w, r)
	if !ok {
		return
	}

	loan, err := h.service.Renew(r.Context(), bookID, req.UserID, req.Due)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"loan": toLoanResponse(loan)})
}

// Reserve は蔵書を予約する。
// POST /books/{bookID}/reservation
func (h *LendingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.parse(w, r)
	if !ok {
		return
	}

	reservation, err := h.service.Reserve(r.Context(), bookID, req.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"reservation": toReservationResponse(reservation)})
}

// CancelReservation は蔵書の予約を取り消す。
// DELETE /books/{bookID}/reservation
func (h *LendingHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.parse(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelReservation(r.Context(), bookID, req.UserID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// GetLoan は蔵書の現在の貸出を返す。
// GET /books/{bookID}/loan
func (h *LendingHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.query.CurrentLoan(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"loan": toLoanResponse(loan)})
}

// GetReservation は蔵書の現在の予約を返す。
// GET /books/{bookID}/reservation
func (h *LendingHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.query.CurrentReservation(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"reservation": toReservationResponse(reservation)})
}

// History は蔵書の貸出履歴を返す。
// GET /books/{bookID}/history
func (h *LendingHandler) History(w http.ResponseWriter, r *http.Request) {
	loans, err := h.query.BookHistory(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, toLoanResponse(l))
	}
	writeSuccess(w, http.StatusOK, map[string]any{"loans": out})
}

// HistoryUsers は蔵書を借りたことのあるユーザーIDを返す。
// GET /books/{bookID}/history/users
func (h *LendingHandler) HistoryUsers(w http.ResponseWriter, r *http.Request) {
	userIDs, err := h.query.BookHistoryUsers(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"users": userIDs})
}
