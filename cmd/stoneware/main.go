package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/knoxmajor/stoneware/internal/application"
	"github.com/knoxmajor/stoneware/internal/config"
	"github.com/knoxmajor/stoneware/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("stoneware", "Resolves the site origin and base path for the stoneware site build")

	resolveCmd := kingpinApp.Command("resolve", "Print the settings for the current environment").Default()
	resolveOpts := resolveOptions{}
	resolveCmd.Flag("env-file", "Dotenv file overlaid on the process environment").StringVar(&resolveOpts.EnvFile)
	resolveCmd.Flag("format", "Output format").Default(formatJSON).EnumVar(&resolveOpts.Format, formatJSON, formatYAML, formatEnv)
	resolveCmd.Flag("ci", "Resolve as if running under continuous integration").BoolVar(&resolveOpts.ForceCI)
	resolveCmd.Flag("path", "Print the absolute URL of this site-relative path instead of the settings").StringVar(&resolveOpts.Path)

	checkCmd := kingpinApp.Command("check", "Validate a settings file and compare it with the settings for the current environment")
	checkOpts := resolveOptions{}
	checkFile := checkCmd.Arg("file", "JSON or YAML settings file").Required().ExistingFile()
	checkCmd.Flag("env-file", "Dotenv file overlaid on the process environment").StringVar(&checkOpts.EnvFile)
	checkCmd.Flag("ci", "Compare against the continuous integration settings").BoolVar(&checkOpts.ForceCI)

	serveCmd := kingpinApp.Command("serve", "Serve the settings API and preview the built site under its base path")
	configFile := serveCmd.Flag("config", "Path to YAML configuration file").String()
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	siteDir := serveCmd.Flag("site-dir", "Build output directory to preview").String()
	envFile := serveCmd.Flag("env-file", "Dotenv file overlaid on the process environment and watched for changes").String()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	switch kingpin.MustParse(kingpinApp.Parse(os.Args[1:])) {
	case resolveCmd.FullCommand():
		if err := runResolve(os.Stdout, os.Environ(), resolveOpts); err != nil {
			kingpinApp.Fatalf("%v", err)
		}

	case checkCmd.FullCommand():
		if err := runCheck(os.Stdout, os.Environ(), *checkFile, checkOpts); err != nil {
			kingpinApp.Fatalf("%v", err)
		}

	case serveCmd.FullCommand():
		overrides := &config.CLIOverrides{
			ConfigFile: *configFile,
		}

		if *port != "" {
			overrides.Port = port
		}

		if *siteDir != "" {
			overrides.SiteDir = siteDir
		}

		if *envFile != "" {
			overrides.EnvFile = envFile
		}

		if *rateLimitRPSFlag >= 0 {
			overrides.RateLimitRPS = rateLimitRPSFlag
		}

		if *rateLimitBurstFlag >= 0 {
			overrides.RateLimitBurst = rateLimitBurstFlag
		}

		serve(overrides)
	}
}

func serve(overrides *config.CLIOverrides) {
	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

// stopper is satisfied by *application.App.
type stopper interface {
	Shutdown(ctx context.Context) error
	Close() error
}

// shutdown blocks until SIGINT or SIGTERM, then stops the preview server and
// the env file watcher, falling back to a hard close after timeout.
func shutdown(app stopper, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("stopping preview server", zap.Stringer("signal", sig))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown timed out, closing connections", zap.Error(err))
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
