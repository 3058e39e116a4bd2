package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/aucontraire/echomine-sub001/internal/config"
	"github.com/aucontraire/echomine-sub001/internal/logging"
	"github.com/aucontraire/echomine-sub001/internal/metrics"
	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/internal/telemetry"
	"github.com/aucontraire/echomine-sub001/pkg/provider"
	"github.com/aucontraire/echomine-sub001/pkg/provider/claude"
	"github.com/aucontraire/echomine-sub001/pkg/provider/openai"
)

// providers maps --provider values to constructors.
var providers = map[string]func(...provider.Option) *provider.Adapter{
	openai.Name: openai.New,
	claude.Name: claude.New,
}

func providerNames() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// runtime holds the services built once per invocation.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	provider *provider.Adapter
}

var rt *runtime

// setup loads configuration and wires logging, telemetry and the provider.
func setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	var otelLogs log.LoggerProvider
	if logCfg.Output.OTEL {
		otelLogs = global.GetLoggerProvider()
	}
	logger, err := logging.NewLogger(logCfg, otelLogs)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := tel.Degraded(); err != nil {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(err))
	}
	rt = &runtime{cfg: cfg, logger: logger, tel: tel}

	name := strings.ToLower(cmp.Or(providerName, cfg.Ingest.Provider, openai.Name))
	newProvider, ok := providers[name]
	if !ok {
		return usagef("unknown provider %q (want one of: %s)", name, strings.Join(providerNames(), ", "))
	}
	rt.provider = newProvider(
		provider.WithLogger(logger),
		provider.WithTracer(tel.Tracer("github.com/aucontraire/echomine-sub001/cmd/echomine")),
		provider.WithSearchParams(search.Params{
			K1:            cfg.Search.BM25K1,
			B:             cfg.Search.BM25B,
			SnippetLength: cfg.Search.SnippetLength,
		}),
		provider.WithProgressEvery(cfg.Ingest.ProgressEvery),
	)

	logger.Debug(ctx, "echomine starting",
		zap.String("provider", name),
		zap.String("version", version),
		zap.Bool("telemetry", tel.IsEnabled()),
	)
	return nil
}

// finish flushes telemetry and prints metrics when requested.
func finish(stderr io.Writer) error {
	if rt == nil {
		return nil
	}
	var errs []error
	if showMetrics {
		if err := metrics.WriteText(stderr); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	if err := rt.tel.Shutdown(context.Background()); err != nil {
		rt.logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
	}
	_ = rt.logger.Sync()
	rt = nil
	return errors.Join(errs...)
}

// streamOptions reports progress at debug level and counts skips.
func streamOptions(ctx context.Context, skipped *int) provider.StreamOptions {
	return provider.StreamOptions{
		OnProgress: func(n int) {
			rt.logger.Debug(ctx, "progress", zap.Int("records", n))
		},
		OnSkip: func(provider.SkipEvent) {
			*skipped++
		},
	}
}

// reportSkipped tells the user how much of the archive was unusable.
func reportSkipped(cmd *cobra.Command, skipped int) {
	if skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d record(s) or message(s) skipped; see warnings above\n", skipped)
	}
}
