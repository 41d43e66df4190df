package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はヘルスチェック1回あたりのストア疎通確認の上限時間。
const healthCheckTimeout = 3 * time.Second

// HealthChecker はレコードストアの疎通確認インターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AppInfo は GET / で返すアプリケーション情報。
type AppInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	CreatedBy []string `json:"created_by"`
}

// InfoHandler はアプリケーション情報を返す。
func InfoHandler(info AppInfo) http.HandlerFunc {
	if info.CreatedBy == nil {
		info.CreatedBy = []string{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

// HealthHandler はストアに疎通できれば200、できなければ503を返す。
func HealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := checker.Ping(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
