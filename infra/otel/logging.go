package otel

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/interactionlab/tandem/config"
)

// Logging owns the process log pipeline: stderr, optional rotating file,
// optional OTLP export through the otel log bridge.
type Logging struct {
	Logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

// New builds the pipeline from configuration.
func New(cfg *config.Config) (*Logging, error) {
	level := parseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if cfg.Log.Format == "json" {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
	}

	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(rotator, opts))
	}

	l := &Logging{}

	if cfg.Telemetry.OTLPEndpoint != "" {
		expOpts := []otlploghttp.Option{
			otlploghttp.WithEndpoint(cfg.Telemetry.OTLPEndpoint),
		}
		if cfg.Telemetry.Insecure {
			expOpts = append(expOpts, otlploghttp.WithInsecure())
		}
		exporter, err := otlploghttp.New(context.Background(), expOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp log exporter: %w", err)
		}

		res := resource.NewSchemaless(
			attribute.String("service.name", cfg.Service.Name),
		)
		l.provider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(l.provider)

		handlers = append(handlers, otelslog.NewHandler(cfg.Service.Name,
			otelslog.WithLoggerProvider(l.provider)))
	}

	l.Logger = slog.New(fanout(handlers...))
	return l, nil
}

// Shutdown flushes the OTLP pipeline, if one was configured.
func (l *Logging) Shutdown(ctx context.Context) error {
	if l.provider == nil {
		return nil
	}
	return l.provider.Shutdown(ctx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewWatermillLogger adapts the process logger for the message router.
func NewWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}
