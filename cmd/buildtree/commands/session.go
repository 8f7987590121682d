package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/frontend"
	"github.com/openfroyo/buildtree/pkg/mozpath"
	"github.com/openfroyo/buildtree/pkg/policy"
	"github.com/openfroyo/buildtree/pkg/secondary"
	"github.com/openfroyo/buildtree/pkg/stores"
	"github.com/openfroyo/buildtree/pkg/telemetry"
)

// session holds everything a command needs to read a tree.
type session struct {
	opts    *options
	cfg     *config.Environment
	tel     *telemetry.Telemetry
	log     zerolog.Logger
	loader  *policy.Loader
	decider *policy.RegoDecider
	store   *stores.SQLiteStore
	metrics *http.Server
}

// newSession resolves the tree configuration and sets up telemetry, the
// optional Rego decider and the optional catalog.
func newSession(ctx context.Context, cmd *cobra.Command, opts *options) (*session, error) {
	cfg, err := loadEnvironment(opts, cmd.Flags().Changed)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	s := &session{
		opts: opts,
		cfg:  cfg,
		tel:  tel,
		log:  tel.Logger.NewComponentLogger("reader").Zerolog(),
	}
	tel.Events.Subscribe(func(e telemetry.Event) {
		s.log.Warn().Str("path", e.Path).Msg(e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeWarning))
	tel.Events.Subscribe(func(e telemetry.Event) {
		s.log.Debug().Str("walk_id", e.WalkID).Msg(e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeWalkStarted, telemetry.EventTypeWalkCompleted, telemetry.EventTypeWalkFailed))

	if opts.metricsAddr != "" {
		srv, errc := tel.StartMetricsServer()
		s.metrics = srv
		go func() {
			for err := range errc {
				s.log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	if len(opts.policyPaths) > 0 {
		s.loader = policy.NewLoader(s.log)
		modules, err := s.loader.LoadFromPaths(ctx, opts.policyPaths)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		s.decider, err = policy.NewRegoDecider(ctx, s.log, modules)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
	}

	if opts.dbPath != "" {
		store, err := openStore(ctx, opts.dbPath)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		s.store = store
	}
	return s, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *session) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.metrics != nil {
		_ = s.metrics.Shutdown(shutdownCtx)
	}
	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// loadEnvironment builds the tree configuration from the status file and
// the command line. Flags the user set win over the status file.
func loadEnvironment(opts *options, changed func(string) bool) (*config.Environment, error) {
	topsrcdir, err := absPath(opts.topSrcDir)
	if err != nil {
		return nil, err
	}
	topobjdir := mozpath.Join(topsrcdir, "obj")
	if opts.topObjDir != "" {
		if topobjdir, err = absPath(opts.topObjDir); err != nil {
			return nil, err
		}
	}

	statusPath := opts.statusPath
	if statusPath == "" {
		statusPath = filepath.Join(filepath.FromSlash(topobjdir), config.StatusFileName)
	}
	cfg, err := config.LoadStatus(statusPath)
	switch {
	case err == nil:
		if changed("topsrcdir") || cfg.TopSrcDir == "" {
			cfg.TopSrcDir = topsrcdir
		}
		if changed("topobjdir") || cfg.TopObjDir == "" {
			cfg.TopObjDir = topobjdir
		}
	case opts.statusPath == "" && errors.Is(err, fs.ErrNotExist):
		cfg = &config.Environment{TopSrcDir: topsrcdir, TopObjDir: topobjdir}
	default:
		return nil, err
	}

	if cfg.Substs == nil {
		cfg.Substs = make(map[string]string)
	}
	for _, kv := range opts.substs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid build setting %q, want KEY=VALUE", kv)
		}
		cfg.Substs[k] = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return mozpath.Normalize(filepath.ToSlash(abs)), nil
}

func telemetryConfig(opts *options) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if opts.verbose {
		cfg.Logging.Level = "debug"
		cfg.Events.MinLevel = telemetry.EventLevelInfo
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	cfg.Tracing.Enabled = opts.trace != ""
	cfg.Tracing.Exporter = opts.trace
	cfg.Metrics.Enabled = opts.metricsAddr != ""
	cfg.Metrics.ListenAddress = opts.metricsAddr
	return cfg
}

// newReader returns a fresh single-use reader wired to the session.
func (s *session) newReader() *frontend.Reader {
	readerOpts := []frontend.Option{
		frontend.WithLogger(s.log),
		frontend.WithTelemetry(s.tel),
		frontend.WithSecondaryReader(secondary.NewCUEReader(secondary.WithLogger(s.log))),
	}
	if len(s.opts.ignore) > 0 {
		readerOpts = append(readerOpts, frontend.WithIgnore(append(append([]string(nil), frontend.DefaultIgnore...), s.opts.ignore...)))
	}
	if s.decider != nil {
		readerOpts = append(readerOpts, frontend.WithConfigPolicy(&frontend.SubtreePolicy{Decider: s.decider}))
	}
	return frontend.NewReader(s.cfg, readerOpts...)
}

// walkFunc selects the traversal a command performs.
type walkFunc func(ctx context.Context, r *frontend.Reader) iter.Seq2[*frontend.Context, error]

// walk runs one traversal, printing every context to out, recording it in
// the catalog when one is configured and rendering the diagnostic of a
// failing file to errOut.
func (s *session) walk(ctx context.Context, mode string, fn walkFunc, out, errOut io.Writer) error {
	walkID := uuid.New().String()
	var rec *stores.Recorder
	if s.store != nil {
		var err error
		rec, err = stores.StartWalk(ctx, s.store, mode, s.cfg)
		if err != nil {
			return err
		}
		walkID = rec.WalkID()
	}

	ctx = telemetry.WithWalkContext(s.tel.WithContext(ctx), walkID, s.cfg.TopSrcDir)
	r := s.newReader()
	p := newPrinter(out, s.opts.output)

	count := 0
	var walkErr error
	for bctx, err := range fn(ctx, r) {
		if err != nil {
			walkErr = err
			break
		}
		count++
		if err := p.context(bctx); err != nil {
			walkErr = err
			break
		}
		if rec != nil {
			if err := rec.Record(ctx, bctx); err != nil {
				walkErr = err
				break
			}
		}
	}
	telemetry.EndWalkContext(ctx, count, walkErr)

	var bre *frontend.BuildReaderError
	if errors.As(walkErr, &bre) {
		fmt.Fprintln(errOut, bre.Render(r.Registry()))
	}
	if rec != nil {
		finishCtx := context.WithoutCancel(ctx)
		if walkErr != nil {
			if err := rec.Diagnose(finishCtx, walkErr); err != nil {
				s.log.Error().Err(err).Msg("Failed to record diagnostic")
			}
		}
		if err := rec.Finish(finishCtx, walkErr); err != nil {
			s.log.Error().Err(err).Msg("Failed to record walk")
		}
	}
	if err := p.flush(); err != nil && walkErr == nil {
		walkErr = err
	}

	s.log.Info().Str("walk_id", walkID).Int("contexts", count).Msg("Walk finished")
	return walkErr
}
