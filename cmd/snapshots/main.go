// Command snapshots runs one batch refresh of the published truth
// snapshots: fetch the location reference, fetch observations from the
// configured backend, aggregate, and write the snapshot and side files.
// It exits non-zero on any failure so the scheduled job is marked failed
// and the previously published files stay live.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/adapter/delphi"
	"github.com/fluwatch/snapshot-etl/internal/adapter/healthdata"
	kafkaadapter "github.com/fluwatch/snapshot-etl/internal/adapter/kafka"
	"github.com/fluwatch/snapshot-etl/internal/adapter/locations"
	"github.com/fluwatch/snapshot-etl/internal/config"
	"github.com/fluwatch/snapshot-etl/internal/domain"
	"github.com/fluwatch/snapshot-etl/internal/observability"
	"github.com/fluwatch/snapshot-etl/internal/pipeline"
)

const metricsJob = "snapshot_etl"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	locSet, err := locations.NewClient(cfg.LocationsURL, cfg.HTTPTimeout).Fetch(ctx)
	if err != nil {
		return fmt.Errorf("load location reference: %w", err)
	}
	logger.Info("location reference loaded", "locations", locSet.Len())

	var source domain.ObservationSource
	switch cfg.Source {
	case config.SourceCovidcast:
		source = delphi.NewClient(cfg.DelphiBaseURL, cfg.DelphiAPIKey, cfg.StartDate, cfg.HTTPTimeout, locSet, logger)
	case config.SourceHealthData:
		source = healthdata.NewClient(cfg.HealthDataURL, cfg.HTTPTimeout, locSet, logger)
	default:
		// config.Load validates the enum; this is unreachable.
		return fmt.Errorf("%w: source %q", domain.ErrInvalidArgument, cfg.Source)
	}

	models, err := cfg.Models()
	if err != nil {
		return err
	}

	targets := make([]pipeline.Target, len(cfg.Targets))
	for i, name := range cfg.Targets {
		targets[i] = pipeline.Target{Name: name, Pathogen: cfg.Pathogen}
	}

	gen := pipeline.NewGenerator(source, locSet, cfg.StartDate, logger, metrics)
	driver := pipeline.NewDriver(gen, locSet, pipeline.DriverConfig{
		OutputDir:  cfg.OutputDir,
		Targets:    targets,
		Locations:  cfg.Locations,
		Resolution: cfg.Resolution,
		Missing:    cfg.Missing,
		LatestOnly: cfg.LatestOnly,
		Start:      cfg.StartDate,
		Models:     models,
	}, logger, metrics)

	results, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.KafkaEnabled {
		if err := notify(ctx, cfg, logger, results); err != nil {
			return err
		}
	}

	if cfg.PushgatewayURL != "" {
		// Snapshots are already on disk; a gateway hiccup is not a failed run.
		if err := observability.PushMetrics(cfg.PushgatewayURL, metricsJob); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}
	return nil
}

func notify(ctx context.Context, cfg *config.Config, logger *slog.Logger, results []pipeline.RunResult) error {
	notifier := kafkaadapter.NewNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka notifier close error", "error", err)
		}
	}()

	completed := time.Now().UTC()
	events := make([]kafkaadapter.RefreshEvent, len(results))
	for i, res := range results {
		events[i] = kafkaadapter.RefreshEvent{
			Target:      res.Target,
			Pathogen:    res.Pathogen,
			Source:      res.Source,
			AsOf:        res.AsOf.Format(domain.DateFormat),
			Locations:   res.Locations,
			Files:       res.Files,
			CompletedAt: completed,
		}
	}
	if err := notifier.Notify(ctx, events); err != nil {
		return fmt.Errorf("publish refresh events: %w", err)
	}
	logger.Info("refresh events published", "topic", cfg.KafkaTopic, "events", len(events))
	return nil
}
