package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gatewayd/internal/config"
	"gatewayd/internal/dispatch"
	"gatewayd/internal/feed"
	"gatewayd/internal/httpapi"
	"gatewayd/internal/manager"
	"gatewayd/internal/profile"
	"gatewayd/internal/voices"
)

func main() {
	var (
		configPath string
		addr       string
		logLevel   string
		pretty     bool
	)

	root := &cobra.Command{
		Use:           "gatewayd",
		Short:         "AI inference gateway: model lifecycle, dispatch, and terminal feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return run(cfg, pretty)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", os.Getenv("GATEWAY_CONFIG"), "Path to config file (.yaml, .json, .toml)")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address, overrides config")
	root.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	root.Flags().BoolVar(&pretty, "pretty", false, "Human-readable console log output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func run(cfg config.Config, pretty bool) error {
	log := newLogger(cfg.LogLevel, pretty)

	fd := feed.New(feed.Config{
		BufferSize:          cfg.Feed.BufferSize,
		SubscriberQueueSize: cfg.Feed.SubscriberQueueSize,
		MaxLineChars:        cfg.Feed.MaxLineChars,
		InstanceID:          cfg.InstanceID,
		Redactor:            feed.NewRedactor(cfg.Feed.RedactExtra),
	})
	defer fd.Close()
	log = log.Hook(feed.NewHook(fd))

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	if cfg.Bus.RedisURL != "" {
		bus, err := feed.NewRedisBus(fd, cfg.Bus.RedisURL, cfg.Bus.Channel, cfg.InstanceID,
			time.Duration(cfg.Bus.ConnectTimeoutSeconds*float64(time.Second)), log)
		if err != nil {
			return fmt.Errorf("terminal bus: %w", err)
		}
		fd.SetDistributor(bus.Publish)
		bus.Start(baseCtx)
		defer bus.Stop()
	}

	timeouts := make(map[string]time.Duration, len(cfg.TimeoutSeconds))
	for class, secs := range cfg.TimeoutSeconds {
		timeouts[class] = time.Duration(secs * float64(time.Second))
	}
	client := dispatch.NewClient(dispatch.ClientConfig{
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  time.Duration(cfg.Breaker.CooldownSeconds * float64(time.Second)),
		TimeoutOverrides: timeouts,
	}, log)
	defer client.Close()

	store := profile.NewStore(cfg.ProfileStorePath)

	llmURL, err := cfg.BackendURL(cfg.LLMBackend)
	if err != nil {
		return fmt.Errorf("llm backend: %w", err)
	}
	mgr := manager.New(client, store, manager.Config{
		Backend:      cfg.LLMBackend,
		BackendURL:   llmURL,
		GeneralModel: cfg.GeneralModel,
		CoderModel:   cfg.CoderModel,
	}, log)

	voiceMgr, err := voices.NewManager(cfg.VoiceDir)
	if err != nil {
		return fmt.Errorf("voice library: %w", err)
	}

	app := &httpapi.Application{
		Cfg:      cfg,
		Client:   client,
		Manager:  mgr,
		Profiles: store,
		Feed:     fd,
		Voices:   voiceMgr,
		Log:      log,
		Started:  time.Now(),
		BaseCtx:  baseCtx,
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("instance", cfg.InstanceID).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return err
	}

	// Cancel long-lived streams first so Shutdown can drain.
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	return nil
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var out = os.Stderr
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
