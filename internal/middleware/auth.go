// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/apollo/internal/model"
)

const apiTokenHeader = "X-API-Token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientIDContextKey はリクエストコンテキストにクライアント識別子を格納するためのキー。
var clientIDContextKey = contextKey("client_id")

// NewAuthMiddleware はAPIトークンを検証するミドルウェアを返す。
// トークンは "Authorization: Bearer <token>" または X-API-Token ヘッダーで受け取る。
// tokenが空の場合は認証を行わない。
// 通過したリクエストにはレート制限用のクライアント識別子を注入する。
func NewAuthMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				presented := tokenFromRequest(r)
				if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
					slog.Warn("unauthorized request",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
					WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
						Code:    "UNAUTHORIZED",
						Message: "Unauthorized",
					})
					return
				}
			}

			ctx := ContextWithClientID(r.Context(), clientAddress(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if after, ok := strings.CutPrefix(v, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.Header.Get(apiTokenHeader)
}

// clientAddress はRemoteAddrからポートを除いたアドレスを返す。
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIDFromContext はリクエストコンテキストからクライアント識別子を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDContextKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client ID not found in context")
	}
	return clientID, nil
}

// ContextWithClientID はコンテキストにクライアント識別子を注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}
