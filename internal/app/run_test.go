package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/apollo/internal/config"
	"github.com/hitoshi/apollo/internal/repository/memstore"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:       config.StoreDriverMemory,
		ReservationLimit:  5,
		APIToken:          "test-token",
		RateLimitGeneral:  600,
		RateLimitLending:  600,
		LogLevel:          "info",
		ServerPort:        "0",
		ShutdownTimeout:   5 * time.Second,
		CORSAllowedOrigin: "*",
		AppName:           "Apollo API",
		AppVersion:        "1.0.0",
		AppAuthors:        []string{"alice", "bob"},
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error = %v, want mention of DATABASE_URL", err)
	}
}

func TestRun_WithUnsupportedDriver_ReturnsError(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	var buf bytes.Buffer
	if err := Run(&buf, []string{}); err == nil {
		t.Fatal("Run with unsupported STORE_DRIVER should return error")
	}
}

func TestRun_MigrateWithMemoryDriver_ReturnsError(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil {
		t.Fatal("migrate with memory driver should return error")
	}
	if !strings.Contains(err.Error(), "migrate requires") {
		t.Errorf("error = %v, want migrate requires ...", err)
	}
}

func TestRun_MigrateActionsWithMemoryDriver_ReturnError(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")

	for _, args := range [][]string{{"migrate", "down"}, {"migrate", "version"}} {
		var buf bytes.Buffer
		err := Run(&buf, args)
		if err == nil || !strings.Contains(err.Error(), "migrate requires") {
			t.Errorf("Run(%v) error = %v, want migrate requires ...", args, err)
		}
	}
}

func TestRun_MigrateInvalidArgs_FailsBeforeInit(t *testing.T) {
	// 設定不備より先に引数の誤りを報告する
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate", "down", "zero"})
	if err == nil {
		t.Fatal("migrate with invalid steps should return error")
	}
	if !strings.Contains(err.Error(), "positive integer") {
		t.Errorf("error = %v, want positive integer ...", err)
	}
	if buf.Len() != 0 {
		t.Errorf("no log output expected before init, got %q", buf.String())
	}
}

func TestRun_Healthcheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	u, err := url.Parse(healthy.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}

	t.Setenv("SERVER_PORT", u.Port())
	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err != nil {
		t.Errorf("healthcheck against healthy server: %v", err)
	}
}

func TestRunHealthcheck_UnhealthyStatus(t *testing.T) {
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	u, _ := url.Parse(unhealthy.URL)
	err := runHealthcheck(u.Port())
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status 503", err)
	}
}

func TestRunServe_MemoryStore_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, testConfig())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after context cancel")
	}
}

func TestNewServer_WiresRoutes(t *testing.T) {
	server, cleanup := newServer(testConfig(), memstore.New())
	defer cleanup()

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	t.Run("info", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		if err != nil {
			t.Fatalf("GET /: %v", err)
		}
		defer resp.Body.Close()

		var info map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			t.Fatalf("failed to decode info: %v", err)
		}
		if info["name"] != "Apollo API" {
			t.Errorf("name = %v, want Apollo API", info["name"])
		}
		if authors, _ := info["created_by"].([]any); len(authors) != 2 {
			t.Errorf("created_by = %v, want 2 authors", info["created_by"])
		}
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("api requires token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/books/unknown")
		if err != nil {
			t.Fatalf("GET /books/unknown: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("register user with token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/users", strings.NewReader(`{"name":"Alice"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer test-token")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST /users: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("status = %d, want 201", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		for _, want := range []string{"apollo_http_status_total", "go_goroutines"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics output missing %s", want)
			}
		}
	})
}
