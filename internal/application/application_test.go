package application

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/knoxmajor/stoneware/internal/config"
	"github.com/knoxmajor/stoneware/internal/site"
)

func TestNewInitializesDependencies(t *testing.T) {
	t.Setenv("CI", "true")
	cfg := baseTestConfig(t, ":8085")
	logger := zaptest.NewLogger(t)

	app, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	env, err := app.storage.GetEnvironment()
	if err != nil {
		t.Fatalf("GetEnvironment returned error: %v", err)
	}
	if env["CI"] != "true" {
		t.Fatalf("expected process environment to seed the snapshot, got CI=%q", env["CI"])
	}
	if got := app.Settings(); got.BasePath != site.CIBasePath {
		t.Fatalf("expected CI base path, got %s", got.BasePath)
	}
	if app.server == nil || app.handler == nil {
		t.Fatalf("expected server and handler to be initialized")
	}
	if app.siteDir != cfg.SiteDir {
		t.Fatalf("expected site dir %s, got %s", cfg.SiteDir, app.siteDir)
	}
}

func TestNewOverlaysEnvFile(t *testing.T) {
	t.Setenv("CI", "")
	cfg := baseTestConfig(t, ":0")
	cfg.EnvFile = filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(cfg.EnvFile, []byte("CI=1\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if got := app.Settings(); got.BasePath != site.CIBasePath {
		t.Fatalf("expected env file to enable CI base path, got %s", got.BasePath)
	}
}

func TestNewReturnsErrorForMissingEnvFile(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	cfg.EnvFile = filepath.Join(t.TempDir(), "missing.env")

	if _, err := New(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestNewToleratesMissingSiteDir(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	cfg.SiteDir = "definitely-not-a-real-site-dir"

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if app.siteDir != "" {
		t.Fatalf("expected static serving to be disabled, got %s", app.siteDir)
	}
}

func TestApplyEnvFileRefreshesSnapshot(t *testing.T) {
	t.Setenv("CI", "")
	app, err := New(baseTestConfig(t, ":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	app.applyEnvFile(map[string]string{"CI": "true"})
	if got := app.Settings(); got.BasePath != site.CIBasePath {
		t.Fatalf("expected CI base path after reload, got %s", got.BasePath)
	}

	app.applyEnvFile(map[string]string{"BAD=KEY": "x"})
	if got := app.Settings(); got.BasePath != site.CIBasePath {
		t.Fatalf("rejected snapshot must keep previous state, got %s", got.BasePath)
	}

	app.applyEnvFile(map[string]string{})
	if got := app.Settings(); got.BasePath != site.RootBasePath {
		t.Fatalf("expected root base path once CI is gone, got %s", got.BasePath)
	}
}

func TestShutdownStopsEnvFileWatcher(t *testing.T) {
	cfg := baseTestConfig(t, "127.0.0.1:0")
	cfg.EnvFile = filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(cfg.EnvFile, []byte("CI=\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := app.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	select {
	case <-app.Done():
	default:
		t.Fatalf("expected Shutdown to stop background work")
	}
}

func TestCloseStopsBackgroundWork(t *testing.T) {
	app, err := New(baseTestConfig(t, ":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := app.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	select {
	case <-app.Done():
	default:
		t.Fatalf("expected Close to stop background work")
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig(t, "9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func TestResolveProjectPathFindsGoMod(t *testing.T) {
	path, err := resolveProjectPath("go.mod")
	if err != nil {
		t.Fatalf("resolveProjectPath returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected go.mod to exist at %s: %v", path, err)
	}
}

func TestResolveProjectPathAbsolute(t *testing.T) {
	dir := t.TempDir()
	got, err := resolveProjectPath(dir)
	if err != nil {
		t.Fatalf("resolveProjectPath returned error: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %s, got %s", dir, got)
	}

	if _, err := resolveProjectPath(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing absolute path")
	}
}

func TestResolveProjectPathUnknownTarget(t *testing.T) {
	if _, err := resolveProjectPath("definitely-not-a-real-file"); err == nil {
		t.Fatalf("expected error for missing resource")
	}
}

func baseTestConfig(t *testing.T, port string) config.Config {
	t.Helper()

	return config.Config{
		Port:                 port,
		SiteDir:              newSiteDir(t),
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    20 * time.Millisecond,
		WriteTimeout:         30 * time.Millisecond,
		IdleTimeout:          40 * time.Millisecond,
		EnableRequestLogging: false,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
	}
}

// newSiteDir creates a throwaway build output with an index page.
func newSiteDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>stoneware</h1>"), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return dir
}

func TestBuildRootHandlerServesUnderBasePath(t *testing.T) {
	siteDir := newSiteDir(t)

	apiInvoked := false
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Fatalf("unexpected path passed to API handler: %s", r.URL.Path)
		}
		apiInvoked = true
		w.WriteHeader(http.StatusNoContent)
	})

	settings := site.Resolve(map[string]string{"CI": "true"})
	handler := BuildRootHandler(apiHandler, func() site.Settings { return settings }, siteDir)

	t.Run("redirects root to base path", func(t *testing.T) {
		for _, target := range []string{"/", "/stoneware"} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			if rec.Code != http.StatusFound {
				t.Fatalf("%s: expected status 302, got %d", target, rec.Code)
			}
			if got := rec.Header().Get("Location"); got != "/stoneware/" {
				t.Fatalf("%s: expected redirect to /stoneware/, got %s", target, got)
			}
		}
	})

	t.Run("serves index under base path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stoneware/", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "stoneware") {
			t.Fatalf("expected index page body, got %q", rec.Body.String())
		}
	})

	t.Run("returns not found outside base path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("forwards api traffic", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rec.Code)
		}
		if !apiInvoked {
			t.Fatalf("expected API handler to be invoked")
		}
	})
}

func TestBuildRootHandlerRootBasePath(t *testing.T) {
	siteDir := newSiteDir(t)

	handler := BuildRootHandler(http.NotFoundHandler(), func() site.Settings { return site.Resolve(nil) }, siteDir)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestBuildRootHandlerWithoutSiteDir(t *testing.T) {
	for _, env := range []map[string]string{nil, {"CI": "true"}} {
		settings := site.Resolve(env)
		handler := BuildRootHandler(http.NotFoundHandler(), func() site.Settings { return settings }, "")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("base %s: expected status 404 without a redirect, got %d", settings.BasePath, rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "" {
			t.Fatalf("base %s: unexpected redirect to %s", settings.BasePath, loc)
		}
	}
}
