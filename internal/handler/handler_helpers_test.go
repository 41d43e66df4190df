package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// jsonRequest はJSONボディ付きのリクエストを生成するヘルパー。bodyがstringならそのまま送る。
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf *bytes.Buffer
	switch v := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case string:
		buf = bytes.NewBufferString(v)
	default:
		buf = &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(v); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, buf)
	if !strings.HasPrefix(method, http.MethodGet) {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// decodeResponse はレスポンスボディをmapへデコードするヘルパー。
func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}

// assertErrorResponse はステータスコードとerrorメッセージを検証するヘルパー。
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantError string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d", w.Code, wantStatus)
	}
	body := decodeResponse(t, w)
	if body["error"] != wantError {
		t.Errorf("error = %v, want %q", body["error"], wantError)
	}
}
