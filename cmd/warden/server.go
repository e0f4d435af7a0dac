package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"
	"github.com/chatwarden/warden/moderation/consumer"
	"github.com/chatwarden/warden/moderation/engine"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	logger   *slog.Logger
	engine   *engine.Engine
	store    *chatstore.Store
	echo     *echo.Echo
	httpd    *http.Server
	notifier *engine.WebhookNotifier
	kafka    *consumer.KafkaConsumer

	persistInterval time.Duration
	metricsListen   string
}

type Config struct {
	Logger          *slog.Logger
	Bind            string
	MetricsListen   string
	PersistInterval time.Duration
	AdminsFile      string
	WebhookURL      string
	KafkaBrokers    []string
	KafkaInput      string
	KafkaOutput     string
	KafkaGroup      string
}

func NewServer(backend chatstore.Backend, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	store := chatstore.NewStore(backend, logger)
	store.LoadAll(context.Background())

	eng := engine.Engine{
		Logger: logger,
		Store:  store,
	}

	if config.AdminsFile != "" {
		admins := engine.NewAdminSetAuthorizer()
		if err := admins.LoadFromFileJSON(config.AdminsFile); err != nil {
			return nil, fmt.Errorf("loading admins file: %w", err)
		}
		logger.Info("loaded chat admins from JSON", "path", config.AdminsFile)
		eng.Authorizer = engine.NewCachedAuthorizer(admins, 10_000, 5*time.Minute)
	} else {
		logger.Warn("no admins file configured, trusting caller admin flag")
	}

	s := &Server{
		logger:          logger,
		store:           store,
		persistInterval: config.PersistInterval,
		metricsListen:   config.MetricsListen,
	}

	if config.WebhookURL != "" {
		logger.Info("configuring webhook notifications")
		s.notifier = engine.NewWebhookNotifier(config.WebhookURL, engine.DefaultWebhookNotifierConfig(), logger)
		eng.Notifier = s.notifier
	}
	s.engine = &eng

	if len(config.KafkaBrokers) > 0 {
		kc, err := consumer.NewKafkaConsumer(consumer.KafkaConfig{
			Brokers:     config.KafkaBrokers,
			InputTopic:  config.KafkaInput,
			OutputTopic: config.KafkaOutput,
			Group:       config.KafkaGroup,
			Logger:      logger,
		}, s.engine)
		if err != nil {
			return nil, err
		}
		s.kafka = kc
	}

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	s.echo = newEcho(s, logger)
	s.httpd = &http.Server{
		Handler:        s.echo,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	return s, nil
}

// Serves prometheus metrics, plus version and ping endpoints, until the context is done.
func (s *Server) RunMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "%s\n", versioninfo.Short())
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "OK")
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shut down metrics server", "err", err)
		}
	}()

	s.logger.Info("metrics server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	return nil
}

// Runs the API server and background workers until an OS exit signal or a worker failure, then persists a final snapshot.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Info("starting server", "bind", s.httpd.Addr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpd.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		return s.RunMetrics(ctx, s.metricsListen)
	})
	eg.Go(func() error {
		return s.RunPersistLoop(ctx)
	})
	if s.notifier != nil {
		eg.Go(func() error {
			return s.notifier.Run(ctx)
		})
	}
	if s.kafka != nil {
		eg.Go(func() error {
			return s.kafka.Run(ctx)
		})
	}

	err := eg.Wait()

	if s.kafka != nil {
		s.kafka.Close()
	}
	s.logger.Info("persisting final moderation state")
	if perr := s.store.PersistAll(context.Background()); perr != nil {
		s.logger.Error("failed to persist final state", "err", perr)
	}
	if cerr := s.store.Close(); cerr != nil {
		s.logger.Error("failed to close storage backend", "err", cerr)
	}
	s.logger.Info("graceful shutdown complete")
	return err
}

// Flushes stats-only changes (which don't trigger a persist of their own) on a timer.
func (s *Server) RunPersistLoop(ctx context.Context) error {
	if s.persistInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.store.FlushIfDirty(ctx); err != nil {
				s.logger.Error("failed to flush moderation state", "err", err)
			}
		}
	}
}
