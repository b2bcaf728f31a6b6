package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/knoxmajor/stoneware/internal/api"
	"github.com/knoxmajor/stoneware/internal/config"
	"github.com/knoxmajor/stoneware/internal/envfile"
	"github.com/knoxmajor/stoneware/internal/site"
	"github.com/knoxmajor/stoneware/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage  storage.Storage
	resolver site.Resolver
	handler  *api.Handler
	logger   *zap.Logger
	server   *http.Server

	baseEnv map[string]string
	envFile string
	siteDir string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New initializes the application with all dependencies from the provided configuration.
// The environment snapshot starts as the process environment overlaid with
// the optional env file.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	baseEnv := site.ParseEnviron(os.Environ())
	env := baseEnv
	if cfg.EnvFile != "" {
		fileEnv, err := envfile.Load(cfg.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
		env = envfile.Merge(baseEnv, fileEnv)
	}

	store := storage.NewMemoryStorage()
	if err := store.SetEnvironment(env); err != nil {
		return nil, fmt.Errorf("failed to apply initial environment: %w", err)
	}

	resolver := site.New()
	handler := api.NewHandler(resolver, store)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	siteDir, err := resolveProjectPath(cfg.SiteDir)
	if err != nil {
		logger.Warn("site directory not found, serving API only",
			zap.String("site_dir", cfg.SiteDir),
		)
		siteDir = ""
	}

	current := func() site.Settings {
		snapshot, err := store.GetEnvironment()
		if err != nil {
			return resolver.Resolve(nil)
		}
		return resolver.Resolve(snapshot)
	}
	rootHandler := BuildRootHandler(apiRouter, current, siteDir)

	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer(cfg, rootHandler)

	return &App{
		storage:  store,
		resolver: resolver,
		handler:  handler,
		logger:   logger,
		server:   server,
		baseEnv:  baseEnv,
		envFile:  cfg.EnvFile,
		siteDir:  siteDir,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// BuildRootHandler constructs the root HTTP handler that routes API requests
// and serves siteDir under the base path reported by settings. An empty
// siteDir disables static serving.
func BuildRootHandler(apiHandler http.Handler, settings func() site.Settings, siteDir string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)

	var files http.Handler
	if siteDir != "" {
		files = http.FileServer(http.Dir(siteDir))
	}

	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := settings().BasePath

		if files != nil && base != site.RootBasePath && (r.URL.Path == "/" || r.URL.Path == strings.TrimSuffix(base, "/")) {
			http.Redirect(w, r, base, http.StatusFound)
			return
		}
		if files == nil || !strings.HasPrefix(r.URL.Path, base) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.StripPrefix(strings.TrimSuffix(base, "/"), files).ServeHTTP(w, r)
	}))

	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
// When an env file is configured its watcher runs until the server shuts down.
func (a *App) Start() error {
	if a.envFile != "" {
		watcher, err := envfile.NewWatcher(a.envFile, a.applyEnvFile, a.logger)
		if err != nil {
			return fmt.Errorf("failed to watch env file: %w", err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := watcher.Run(a.ctx); err != nil {
				a.logger.Error("env file watcher stopped", zap.Error(err))
			}
		}()
	}

	settings := a.Settings()
	go func() {
		a.logger.Info("server listening",
			zap.String("addr", a.server.Addr),
			zap.String("url", settings.URL()),
			zap.String("site_dir", a.siteDir),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops background work and gracefully shuts down the server.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()
	err := a.server.Shutdown(ctx)
	a.wg.Wait()
	return err
}

// Close stops background work and closes the server immediately.
func (a *App) Close() error {
	a.cancel()
	err := a.server.Close()
	a.wg.Wait()
	return err
}

// Done is closed once Shutdown or Close has been called.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Settings resolves the settings for the current environment snapshot.
func (a *App) Settings() site.Settings {
	env, err := a.storage.GetEnvironment()
	if err != nil {
		a.logger.Warn("environment snapshot unavailable", zap.Error(err))
		return a.resolver.Resolve(nil)
	}
	return a.resolver.Resolve(env)
}

func (a *App) applyEnvFile(fileEnv map[string]string) {
	if err := a.handler.ReplaceEnvironment(envfile.Merge(a.baseEnv, fileEnv)); err != nil {
		a.logger.Warn("rejected env file snapshot", zap.Error(err))
		return
	}
	settings := a.Settings()
	a.logger.Info("environment refreshed from env file",
		zap.String("base", settings.BasePath),
	)
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
// Absolute paths are only checked for existence.
func resolveProjectPath(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		if _, err := os.Stat(relative); err != nil {
			return "", fmt.Errorf("unable to locate %s: %w", relative, err)
		}
		return relative, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
