package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/clientrb/pkg/attributes"
	"github.com/openfroyo/clientrb/pkg/converge"
	"github.com/openfroyo/clientrb/pkg/settings"
	"github.com/openfroyo/clientrb/pkg/stores"
	"github.com/openfroyo/clientrb/pkg/telemetry"
)

// session holds what every command needs: settings, telemetry, a logger.
type session struct {
	settings *settings.Settings
	tel      *telemetry.Telemetry
	log      *telemetry.Logger
	loader   *attributes.Loader
}

func newSession() (*session, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}
	if len(attributeFiles) > 0 {
		s.Sources = attributeFiles
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		s.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&s.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &session{
		settings: s,
		tel:      tel,
		log:      tel.Logger.NewComponentLogger("cli"),
		loader:   attributes.NewLoader(s.StarlarkTimeout),
	}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.tel.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to flush telemetry")
	}
}

func (s *session) loadTree(ctx context.Context) (*attributes.Tree, error) {
	if len(s.settings.Sources) == 0 {
		return nil, fmt.Errorf("no attribute sources: pass --attributes or set sources in %s", settings.DefaultFileName)
	}
	op := telemetry.StartOperation(s.tel.WithContext(ctx), "load_attributes")
	tree, err := s.loader.Load(ctx, s.settings.Sources...)
	op.End(err)
	if err != nil {
		s.tel.Metrics.RecordError(errorKind(err))
		return nil, err
	}
	s.log.WithFields(map[string]interface{}{
		"sources": s.settings.Sources,
		"elapsed": op.Elapsed().String(),
	}).Debug("Attributes loaded")
	return tree, nil
}

// openStore returns nil when history is disabled.
func (s *session) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if !s.settings.HistoryEnabled() {
		return nil, nil
	}
	store, err := stores.Open(ctx, s.settings.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	s.tel.Events.Subscribe(store.EventSubscriber(s.log.Zerolog()), nil)
	return store, nil
}

func (s *session) newRunner(target converge.Target, store *stores.SQLiteStore) *converge.Runner {
	opts := []converge.RunnerOption{
		converge.WithTelemetry(s.tel),
		converge.WithPlanOptions(s.settings.PlanOptions()),
	}
	if store != nil {
		opts = append(opts, converge.WithRecorder(store))
	}
	return converge.NewRunner(target, opts...)
}

// prune trims history to HistoryKeep runs.
func (s *session) prune(ctx context.Context, store *stores.SQLiteStore) {
	if store == nil || s.settings.HistoryKeep <= 0 {
		return
	}
	deleted, err := store.PruneRuns(ctx, s.settings.HistoryKeep)
	if err != nil {
		s.log.WithError(err).Warn("Failed to prune run history")
		return
	}
	if deleted > 0 {
		s.log.WithField("deleted", deleted).Debug("Pruned run history")
	}
}

func errorKind(err error) string {
	if kind := attributes.KindOf(err); kind != "" {
		return string(kind)
	}
	if code := converge.CodeOf(err); code != "" {
		return code
	}
	return "unknown"
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
