package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/tate-embeddings/internal/api"
	"github.com/nidhogg/tate-embeddings/internal/auth"
	"github.com/nidhogg/tate-embeddings/internal/config"
	"github.com/nidhogg/tate-embeddings/internal/embedding"
	"github.com/nidhogg/tate-embeddings/internal/health"
	"github.com/nidhogg/tate-embeddings/internal/metrics"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting Tate embeddings service...",
		zap.String("model", cfg.ModelName),
		zap.String("pretrained", cfg.Pretrained),
		zap.String("backend", cfg.Encoder.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(api.ServiceName)

	var healthSrv *health.Server
	if cfg.Health.GRPCAddr != "" {
		healthSrv = health.NewServer(cfg.Health.GRPCAddr, logger)
	}

	// Load the model once; every request shares it.
	model, err := embedding.NewModel(ctx, embedding.ModelConfig{
		Name:          cfg.ModelName,
		Pretrained:    cfg.Pretrained,
		Device:        cfg.Encoder.Device,
		Workers:       cfg.Workers,
		FetchTimeout:  cfg.Encoder.FetchTimeout,
		MaxImageBytes: cfg.Encoder.MaxImageBytes,
		Observer:      m,
	}, newEncoder(cfg.Encoder), logger)
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err))
	}
	defer model.Close()
	logger.Info("Model loaded successfully - ready to accept requests")

	handler := api.NewHandler(model, auth.NewGate(cfg.AuthToken), api.Options{
		Metrics:       m,
		ExposeMetrics: cfg.Metrics.Addr == "",
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Tate embeddings listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = m.Server(cfg.Metrics.Addr)
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if healthSrv != nil {
		healthSrv.SetServing(true)
		g.Go(healthSrv.ListenAndServe)
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if healthSrv != nil {
			healthSrv.Shutdown(shutdownCtx)
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func newEncoder(cfg config.EncoderSettings) embedding.Encoder {
	switch cfg.Backend {
	case "hash":
		return embedding.NewHashEncoder()
	default:
		return embedding.NewRemoteEncoder(embedding.RemoteConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
		})
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
