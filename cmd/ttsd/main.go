package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/backend/onnx"
	"github.com/ekisa-team/ttsd/internal/backend/piper"
	"github.com/ekisa-team/ttsd/internal/config"
	"github.com/ekisa-team/ttsd/internal/env"
	"github.com/ekisa-team/ttsd/internal/logger"
	"github.com/ekisa-team/ttsd/internal/model"
	grpcserver "github.com/ekisa-team/ttsd/internal/server/grpc"
	httpserver "github.com/ekisa-team/ttsd/internal/server/http"
	natsserver "github.com/ekisa-team/ttsd/internal/server/nats"
	"github.com/ekisa-team/ttsd/internal/service"
)

const shutdownTimeout = 30 * time.Second

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("ttsd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		flagConfigPath = pflag.StringP("config", "c", filepath.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagHTTPPort   = pflag.Int("http-port", config.DefaultHTTPPort(), "HTTP port to listen on")
		flagGRPCPort   = pflag.Int("grpc-port", config.DefaultGRPCPort(), "gRPC health port to listen on, negative disables it")
		flagLogLevel   = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
		flagVersion    = pflag.BoolP("version", "v", false, "Print the version and exit")
	)
	pflag.Parse()

	if *flagVersion {
		fmt.Println("ttsd", version)
		return nil
	}

	cfg, found, err := config.Load(*flagConfigPath)
	if err != nil {
		return err
	}

	if pflag.CommandLine.Changed("http-port") {
		cfg.Server.HTTPPort = *flagHTTPPort
	}
	if pflag.CommandLine.Changed("grpc-port") {
		cfg.Server.GRPCPort = *flagGRPCPort
	}
	if *flagLogLevel != "" {
		cfg.Log.Level = *flagLogLevel
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))

	slog.SetDefault(
		logger.New(env.FromEnv(),
			logger.WithLevel(level),
			logger.WithLogToFile(cfg.Log.File != ""),
			logger.WithLogFile(cfg.Log.File),
		),
	)

	slog.Info("Starting ttsd", "version", version, "config", *flagConfigPath, "config_found", found, "model", cfg.Model.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends := backend.NewRegistry()
	if err := errors.Join(
		backends.Register(backend.ProviderONNX, onnx.New),
		backends.Register(backend.ProviderPiper, piper.New),
	); err != nil {
		return err
	}

	tts := service.NewTTS(limitsFrom(cfg))

	manager := model.NewManager(backends)

	// Surfaces come up before the model so health checks answer during the load.
	serveErr := make(chan error, 2)

	httpSrv := httpserver.NewServer(
		net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		tts,
		httpserver.Info{
			Service:           "ttsd",
			Version:           version,
			ModelID:           cfg.Model.ID,
			DefaultSampleRate: cfg.Model.SampleRate,
			SynthesisTimeout:  cfg.Synthesis.Timeout(),
			ModelStatus:       manager.Status,
		},
	)

	// Bind both ports before the model load so a conflict fails fast.
	httpLis, err := httpSrv.Listen()
	if err != nil {
		return err
	}

	var grpcLis net.Listener
	if cfg.Server.GRPCPort >= 0 {
		grpcLis, err = net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)))
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
	}

	go func() { serveErr <- httpSrv.Serve(httpLis) }()

	var grpcSrv *grpcserver.Server
	if grpcLis != nil {
		grpcSrv = grpcserver.NewServer()
		go func() { serveErr <- grpcSrv.Serve(grpcLis) }()
	}

	shutdown := func(handle *model.Handle, worker *natsserver.Worker, nc *nats.Conn, watcher *config.Watcher) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		slog.Info("Shutting down")

		if worker != nil {
			if err := worker.Stop(); err != nil {
				slog.Error("Failed to stop NATS worker", "error", err)
			}
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down HTTP server", "error", err)
		}
		if grpcSrv != nil {
			grpcSrv.Stop(shutdownCtx)
		}
		if nc != nil {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		}
		if watcher != nil {
			_ = watcher.Close()
		}
		if handle != nil {
			if err := handle.Close(); err != nil {
				slog.Error("Failed to close model", "error", err)
			}
		}
	}

	handle, err := manager.Load(ctx, cfg)
	if err != nil {
		shutdown(nil, nil, nil, nil)
		return fmt.Errorf("model load failed: %w", err)
	}

	if err := tts.Attach(handle); err != nil {
		shutdown(handle, nil, nil, nil)
		return err
	}
	if grpcSrv != nil {
		grpcSrv.MarkReady()
	}

	var (
		nc     *nats.Conn
		worker *natsserver.Worker
	)
	if cfg.NATS.URL != "" {
		if nc, err = natsserver.Connect(cfg.NATS.URL); err != nil {
			shutdown(handle, nil, nil, nil)
			return err
		}
		worker = natsserver.NewWorker(nc, cfg.NATS.Subject, cfg.NATS.Queue, tts)
		if err := worker.Start(); err != nil {
			shutdown(handle, nil, nc, nil)
			return err
		}
	}

	var watcher *config.Watcher
	if found {
		watcher, err = config.NewWatcher(*flagConfigPath, func(next *config.Config, err error) {
			if err != nil {
				slog.Error("Ignoring invalid config change", "error", err)
				return
			}
			applyReload(cfg, next, level, tts)
		})
		if err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}

	slog.Info("ttsd ready", "model", handle.ID, "device", handle.Device, "sample_rate", handle.SampleRate)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
		}
	}

	shutdown(handle, worker, nc, watcher)
	return err
}

func limitsFrom(cfg *config.Config) service.Limits {
	return service.Limits{
		Timeout:       cfg.Synthesis.Timeout(),
		MaxTextLength: cfg.Synthesis.MaxTextLength,
	}
}

// applyReload applies the live-tunable settings. Everything else needs a restart.
func applyReload(current, next *config.Config, level *slog.LevelVar, tts *service.TTS) {
	level.Set(logger.ParseLevel(next.Log.Level))
	tts.SetLimits(limitsFrom(next))

	slog.Info("Applied config change",
		"log_level", next.Log.Level,
		"timeout", next.Synthesis.Timeout(),
		"max_text_length", next.Synthesis.MaxTextLength)

	if !reflect.DeepEqual(current.Model, next.Model) || current.Server != next.Server || current.NATS != next.NATS {
		slog.Warn("Model, server and NATS settings changed on disk; restart to apply them")
	}
}
