package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hitoshi/apollo/internal/model"
)

// fallbackCode はルート未定義と予期しないエラーに使うコード。
const fallbackCode = "001"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// FallbackResponseBody はルート未定義・予期しないエラーのレスポンス。
type FallbackResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// ラップされた原因（apiErr.Err）はレスポンスに含めない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, ErrorResponseBody{
		Error: apiErr.Message,
		Code:  apiErr.Code,
	})
}

// WriteInternalServerError は予期しないエラーの500レスポンスを書き込む。
// 詳細はログのみに記録する。
func WriteInternalServerError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, FallbackResponseBody{
		Code:    fallbackCode,
		Message: "An unexpected error occurred",
	})
}

// WriteNotFound は未定義ルートの404レスポンスを書き込む。
func WriteNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, FallbackResponseBody{
		Code:    fallbackCode,
		Message: fmt.Sprintf("%s %s not found", r.Method, r.URL.Path),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
