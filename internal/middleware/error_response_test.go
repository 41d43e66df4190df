package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/apollo/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyOnLoanError())

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Error != "Book already on loan" {
		t.Errorf("error = %q, want %q", body.Error, "Book already on loan")
	}
	if body.Code != model.ErrCodeAlreadyOnLoan {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAlreadyOnLoan)
	}
}

// TestWriteErrorResponse_OmitsCause はラップされた原因がレスポンスに含まれないことを検証する。
func TestWriteErrorResponse_OmitsCause(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusInternalServerError,
		model.NewStorageError("Couldn't withdraw book", errors.New("pq: connection refused")))

	body := w.Body.String()
	if strings.Contains(body, "connection refused") {
		t.Errorf("response leaked storage cause: %s", body)
	}
	if !strings.Contains(body, "Couldn't withdraw book") {
		t.Errorf("response should contain the storage message, got %s", body)
	}
}

func TestWriteInternalServerError_ReturnsFallbackBody(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body FallbackResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != "001" {
		t.Errorf("code = %q, want %q", body.Code, "001")
	}
	if body.Message != "An unexpected error occurred" {
		t.Errorf("message = %q, want %q", body.Message, "An unexpected error occurred")
	}
}

func TestWriteNotFound_IncludesMethodAndPath(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNotFound(w, httptest.NewRequest(http.MethodPatch, "/shelves/1", nil))

	var body FallbackResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
	if body.Message != "PATCH /shelves/1 not found" {
		t.Errorf("message = %q, want %q", body.Message, "PATCH /shelves/1 not found")
	}
}
