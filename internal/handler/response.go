// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/apollo/internal/middleware"
	"github.com/hitoshi/apollo/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// successMessage は成功レスポンスのmessageフィールドの値。
const successMessage = "success"

// writeSuccess は {"message":"success", ...payload} 形式でレスポンスを書き込む。
func writeSuccess(w http.ResponseWriter, statusCode int, payload map[string]any) {
	body := map[string]any{"message": successMessage}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeBody はJSONリクエストボディをdstへ読み込む。
// 空のボディはゼロ値のまま受け付け、後続の必須項目チェックに任せる。
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewInvalidBodyError()
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorのカテゴリからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Category {
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryInvalidRequest:
		return http.StatusBadRequest
	case model.CategoryInvalidState, model.CategoryQuotaExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// --- レスポンスDTO ---

type bookResponse struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Tags          []string `json:"tags"`
	State         string   `json:"state"`
	LoanID        string   `json:"loanID,omitempty"`
	ReservationID string   `json:"reservationID,omitempty"`
}

type loanResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userID"`
	BookID     string     `json:"bookID"`
	Due        time.Time  `json:"due"`
	ReturnDate *time.Time `json:"returnDate"`
}

type reservationResponse struct {
	ID     string `json:"id"`
	UserID string `json:"userID"`
	BookID string `json:"bookID"`
}

type userResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	LoanIDs        []string `json:"loanIDs"`
	ReservationIDs []string `json:"reservationIDs"`
}

func toBookResponse(b *model.Book) bookResponse {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	return bookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Tags:          tags,
		State:         string(b.State()),
		LoanID:        b.LoanID,
		ReservationID: b.ReservationID,
	}
}

func toLoanResponse(l *model.Loan) loanResponse {
	return loanResponse{
		ID:         l.ID,
		UserID:     l.UserID,
		BookID:     l.BookID,
		Due:        l.Due,
		ReturnDate: l.ReturnDate,
	}
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:     r.ID,
		UserID: r.UserID,
		BookID: r.BookID,
	}
}

func toUserResponse(u *model.User) userResponse {
	loanIDs, reservationIDs := u.LoanIDs, u.ReservationIDs
	if loanIDs == nil {
		loanIDs = []string{}
	}
	if reservationIDs == nil {
		reservationIDs = []string{}
	}
	return userResponse{
		ID:             u.ID,
		Name:           u.Name,
		LoanIDs:        loanIDs,
		ReservationIDs: reservationIDs,
	}
}
