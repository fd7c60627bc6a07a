//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/personasync/apiserver/config"
	"github.com/personasync/apiserver/internal/db"
	"github.com/personasync/apiserver/internal/logger"
	"github.com/personasync/apiserver/internal/server"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := dockerCompose(ctx, root, "up", "-d", "postgres", "minio"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	shutdown := func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestSurveyLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	username := fmt.Sprintf("user_%d", time.Now().UnixNano())

	token, err := newSession(baseURL)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	var created profileResponse
	status, err := call(http.MethodPost, baseURL+"/users", token, map[string]any{
		"firstName": "Test",
		"username":  username,
		"age":       28,
		"location":  "Tokyo, Japan",
	}, &created)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create user: status %d, err %v", status, err)
	}
	if created.Username != username || created.XP != 0 {
		t.Fatalf("unexpected created profile: %+v", created)
	}

	var result completionResponse
	for i, want := range []completionResponse{
		{Success: true, XPEarned: 40},
		{Success: true, AlreadyCompleted: true},
	} {
		status, err := call(http.MethodPost, baseURL+"/session/me/surveys/e2e-survey/complete", token, map[string]int{"xp": 40}, &result)
		if err != nil || status != http.StatusOK {
			t.Fatalf("completion %d: status %d, err %v", i, status, err)
		}
		if result != want {
			t.Fatalf("completion %d: got %+v, want %+v", i, result, want)
		}
	}

	// A fresh session sees the same stored profile once logged in.
	other, err := newSession(baseURL)
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	var sess sessionResponse
	status, err = call(http.MethodPut, baseURL+"/session/user", other, map[string]string{"username": username}, &sess)
	if err != nil || status != http.StatusOK || !sess.LoggedIn {
		t.Fatalf("login: status %d, err %v, session %+v", status, err, sess)
	}

	var me profileResponse
	if _, err := call(http.MethodGet, baseURL+"/session/me", other, nil, &me); err != nil {
		t.Fatalf("get me: %v", err)
	}
	if me.XP != 40 || len(me.CompletedSurveys) != 1 {
		t.Fatalf("unexpected stored profile: %+v", me)
	}

	var exported struct {
		Key string `json:"key"`
	}
	status, err = call(http.MethodPost, baseURL+"/dashboard/exports", "", nil, &exported)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("export: status %d, err %v", status, err)
	}
	if !strings.HasPrefix(exported.Key, "exports/profiles-") {
		t.Fatalf("unexpected export key: %q", exported.Key)
	}
}

type sessionResponse struct {
	LoggedIn bool   `json:"loggedIn"`
	Username string `json:"username"`
}

type profileResponse struct {
	Username         string   `json:"username"`
	XP               int      `json:"xp"`
	CompletedSurveys []string `json:"completedSurveys"`
}

type completionResponse struct {
	Success          bool `json:"success"`
	AlreadyCompleted bool `json:"alreadyCompleted"`
	XPEarned         int  `json:"xpEarned"`
}

func newSession(baseURL string) (string, error) {
	var parsed struct {
		Token string `json:"token"`
	}
	status, err := call(http.MethodPost, baseURL+"/sessions", "", nil, &parsed)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated || parsed.Token == "" {
		return "", fmt.Errorf("session status %d", status)
	}
	return parsed.Token, nil
}

func call(method, url, token string, payload any, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func setTestEnv() {
	_ = os.Setenv("SESSION_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("KV_BACKEND", "postgres")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "personasync")
	_ = os.Setenv("DB_PASSWORD", "personasync")
	_ = os.Setenv("DB_NAME", "personasync")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "personasync-e2e")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, logger.Nop())
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
