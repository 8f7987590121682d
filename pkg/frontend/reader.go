package frontend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/mozpath"
	"github.com/openfroyo/buildtree/pkg/telemetry"
)

// SecondaryRequest describes one foreign build description to read.
type SecondaryRequest struct {
	Config   *config.Environment
	Registry *Registry

	// Input is the absolute path of the foreign description.
	Input string

	// OutputDir is the absolute output directory of the produced contexts.
	OutputDir string

	Variables map[string]string

	// Excluded holds the absolute paths of sources excluded from unified
	// compilation.
	Excluded []string
}

// SecondaryReader turns a foreign build description into contexts.
type SecondaryReader interface {
	Read(ctx context.Context, req SecondaryRequest) ([]*Context, error)
}

// PostEvalFunc is called with every Context after its evaluation and
// before it is yielded.
type PostEvalFunc func(*Context) error

// ReadOptions controls ReadBuildFile.
type ReadOptions struct {
	// Config overrides the reader's configuration for the first file.
	Config *config.Environment

	// Descend enables recursion into child directories.
	Descend bool

	// Metadata is the inherited state for the first file.
	Metadata *Metadata
}

// Option configures a Reader.
type Option func(*Reader)

// WithRegistry sets the build-file vocabulary.
func WithRegistry(reg *Registry) Option { return func(r *Reader) { r.registry = reg } }

// WithPostEval sets the hook run on every evaluated Context.
func WithPostEval(fn PostEvalFunc) Option { return func(r *Reader) { r.postEval = fn } }

// WithSecondaryReader sets the reader of FOREIGN_DIRS descriptions.
func WithSecondaryReader(sr SecondaryReader) Option { return func(r *Reader) { r.secondary = sr } }

// WithConfigPolicy sets the configuration selection policy.
func WithConfigPolicy(p ConfigPolicy) Option { return func(r *Reader) { r.policy = p } }

// WithStatusLoader sets how the default policy loads status artifacts.
func WithStatusLoader(load config.StatusLoader) Option {
	return func(r *Reader) { r.loadStatus = load }
}

// WithIgnore sets the patterns skipped by WalkTopSrcDir.
func WithIgnore(patterns []string) Option {
	return func(r *Reader) { r.ignore = append([]string(nil), patterns...) }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(r *Reader) { r.log = log } }

// WithTelemetry records metrics, spans and events in tel. Without it the
// telemetry found in the walk's context.Context is used, if any.
func WithTelemetry(tel *telemetry.Telemetry) Option { return func(r *Reader) { r.tel = tel } }

// Reader reads a tree of build files into contexts. A Reader performs a
// single walk.
type Reader struct {
	config     *config.Environment
	registry   *Registry
	postEval   PostEvalFunc
	secondary  SecondaryReader
	policy     ConfigPolicy
	loadStatus config.StatusLoader
	ignore     []string
	log        zerolog.Logger
	tel        *telemetry.Telemetry

	env       *sandboxEnv
	readFiles map[string]struct{}
	stack     []string
	used      bool
}

// NewReader returns a Reader for the tree configured by cfg.
func NewReader(cfg *config.Environment, opts ...Option) *Reader {
	r := &Reader{
		config:    cfg,
		ignore:    append([]string(nil), DefaultIgnore...),
		log:       zerolog.Nop(),
		readFiles: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = DefaultRegistry()
	}
	if r.policy == nil {
		r.policy = NewSubtreePolicy(r.loadStatus)
	}
	return r
}

// Registry returns the vocabulary the reader validates against.
func (r *Reader) Registry() *Registry { return r.registry }

func (r *Reader) begin(ctx context.Context) error {
	if r.used {
		return ErrReaderUsed
	}
	r.used = true
	if r.tel == nil {
		r.tel = telemetry.FromTelemetryContext(ctx)
	}
	r.env = newSandboxEnv(r.log, r.tel)
	return nil
}

// ReadTopSrcDir reads the build file at the top of the source tree and
// follows child directory references depth first.
func (r *Reader) ReadTopSrcDir(ctx context.Context) iter.Seq2[*Context, error] {
	return r.ReadBuildFile(ctx, mozpath.Join(r.config.TopSrcDir, BuildFileName), ReadOptions{Descend: true})
}

// WalkTopSrcDir reads every build file found below the source root,
// without following child directory references.
func (r *Reader) WalkTopSrcDir(ctx context.Context) iter.Seq2[*Context, error] {
	return func(yield func(*Context, error) bool) {
		if err := r.begin(ctx); err != nil {
			yield(nil, err)
			return
		}
		finder, err := NewFinder(r.config.TopSrcDir, r.ignorePatterns())
		if err != nil {
			yield(nil, err)
			return
		}
		paths, err := finder.Find(BuildFileName)
		if err != nil {
			yield(nil, fmt.Errorf("scanning %s: %w", r.config.TopSrcDir, err))
			return
		}
		for _, rel := range paths {
			if !r.read(ctx, mozpath.Join(r.config.TopSrcDir, rel), r.config, false, nil, yield) {
				return
			}
		}
	}
}

func (r *Reader) ignorePatterns() []string {
	patterns := append([]string(nil), r.ignore...)
	if objdir := r.config.TopObjDir; mozpath.HasPrefix(objdir, r.config.TopSrcDir) {
		if rel := mozpath.Rel(r.config.TopSrcDir, objdir); rel != "" {
			patterns = append(patterns, rel)
		}
	}
	return patterns
}

// ReadBuildFile reads the build file at path and, when opts.Descend is
// set, the build files of the directories it references.
func (r *Reader) ReadBuildFile(ctx context.Context, path string, opts ReadOptions) iter.Seq2[*Context, error] {
	return func(yield func(*Context, error) bool) {
		if err := r.begin(ctx); err != nil {
			yield(nil, err)
			return
		}
		cfg := opts.Config
		if cfg == nil {
			cfg = r.config
		}
		r.read(ctx, path, cfg, opts.Descend, opts.Metadata.Clone(), yield)
	}
}

// read processes one build file and its subtree. It returns false once
// the walk must stop, because the consumer stopped pulling or an error was
// delivered.
func (r *Reader) read(ctx context.Context, path string, cfg *config.Environment, descend bool, md *Metadata, yield func(*Context, error) bool) bool {
	path = mozpath.Normalize(path)
	r.stack = append(r.stack, path)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	ok, err := r.readFile(ctx, path, cfg, descend, md, yield)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		yield(nil, err)
		return false
	}
	if err != nil {
		bre := NewBuildReaderError(r.stack, err)
		if bre.Registry == nil {
			bre.Registry = r.registry
		}
		r.recordDiagnostic(ctx, bre)
		yield(nil, bre)
		return false
	}
	return ok
}

func (r *Reader) readFile(ctx context.Context, path string, cfg *config.Environment, descend bool, md *Metadata, yield func(*Context, error) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.log.Debug().Str("path", path).Msg("Reading file")

	if _, ok := r.readFiles[path]; ok {
		r.log.Warn().Str("path", path).Msg("File already read. Skipping")
		if r.tel != nil {
			r.tel.Metrics.RecordDuplicateSkip()
			_ = r.tel.Events.PublishDuplicateSkipped(path)
			telemetry.AddFileEvent(telemetry.SpanFromContext(ctx), path, telemetry.EventTypeDuplicateSkipped, "already read")
		}
		return true, nil
	}
	r.readFiles[path] = struct{}{}

	bctx, sb, err := r.evaluate(ctx, path, cfg, md)
	if err != nil {
		return false, err
	}

	secondaries, err := r.readSecondary(ctx, bctx)
	if err != nil {
		return false, err
	}

	bctx.Freeze()
	if !r.emit(bctx, yield) {
		return false, nil
	}
	for _, sc := range secondaries {
		sc.Freeze()
		if !r.emit(sc, yield) {
			return false, nil
		}
	}

	children, err := r.recursionSet(bctx, sb)
	if err != nil {
		return false, err
	}
	synthesized := make(map[string]bool, len(secondaries))
	for _, sc := range secondaries {
		synthesized[mozpath.Join(bctx.SrcDir(), mozpath.Rel(bctx.ObjDir(), sc.ObjDir()))] = true
	}

	for _, child := range children {
		childPath := mozpath.Join(child.dir, BuildFileName)
		if !IsReadAllowed(childPath, bctx.Config()) {
			return false, &ValidationError{
				Message: fmt.Sprintf("Attempting to process file outside of allowed paths: %s", childPath),
				Context: bctx,
			}
		}
		if !descend {
			continue
		}
		if synthesized[child.dir] {
			if _, err := os.Stat(childPath); os.IsNotExist(err) {
				r.log.Debug().Str("path", childPath).Msg("No build file in synthesized directory")
				continue
			}
		}
		if !r.read(ctx, childPath, bctx.Config(), true, child.metadata, yield) {
			return false, nil
		}
	}
	return true, nil
}

// evaluate selects the configuration for path and executes it into a new
// Context.
func (r *Reader) evaluate(ctx context.Context, path string, cfg *config.Environment, md *Metadata) (_ *Context, _ *Sandbox, err error) {
	ic := telemetry.StartFileOperation(ctx, path)
	defer func() { ic.End(err) }()
	defer recoverInternal(path, &err)

	cfg, err = r.policy.Select(ic.Ctx, path, cfg)
	if err != nil {
		return nil, nil, err
	}

	bctx := NewContext(r.registry, cfg)
	sb, err := newSandbox(bctx, md, r.env)
	if err != nil {
		return nil, nil, &internalError{msg: "creating sandbox for " + path, err: err}
	}
	err = sb.ExecFile(path)
	bctx.ExecutionTime = ic.Timer.Duration()
	if r.tel != nil {
		r.tel.Metrics.RecordFileRead(bctx.ExecutionTime, err)
	}
	if err != nil {
		return nil, nil, err
	}
	r.log.Debug().Str("path", path).Dur("duration", bctx.ExecutionTime).Int("variables", bctx.Len()).Msg("Evaluated file")

	if r.postEval != nil {
		if err := r.postEval(bctx); err != nil {
			return nil, nil, err
		}
	}
	return bctx, sb, nil
}

// recoverInternal turns a panic raised while processing path into an
// internal error. It is deferred only in frames that never call yield, so
// a panic of the consumer's loop body is not swallowed.
func recoverInternal(path string, err *error) {
	if p := recover(); p != nil {
		*err = &internalError{msg: fmt.Sprintf("panic while processing %s: %v", path, p), trace: debug.Stack()}
	}
}

func (r *Reader) emit(c *Context, yield func(*Context, error) bool) bool {
	if r.tel != nil {
		r.tel.Metrics.RecordContextYielded(c.Kind().String())
	}
	return yield(c, nil)
}

func (r *Reader) recordDiagnostic(ctx context.Context, bre *BuildReaderError) {
	r.log.Debug().Str("path", bre.MainFile()).Str("kind", string(bre.Kind)).Msg("Build file failed")
	if r.tel != nil {
		telemetry.SpanFromContext(ctx).SetAttributes(telemetry.AttrErrorKind.String(string(bre.Kind)))
		r.tel.Metrics.RecordDiagnostic(string(bre.Kind))
		_ = r.tel.Events.PublishDiagnostic(bre.MainFile(), string(bre.Kind), bre.Cause.Error())
	}
}

type childDir struct {
	dir      string
	metadata *Metadata
}

// recursionSet lists the child directories of bctx in order, each with the
// metadata its build file inherits.
func (r *Reader) recursionSet(bctx *Context, sb *Sandbox) (_ []childDir, err error) {
	defer recoverInternal(bctx.MainPath(), &err)
	vars := []string{"DIRS"}
	if v, _ := bctx.Config().Subst("ENABLE_TESTS"); v == "1" {
		vars = append(vars, "TEST_DIRS")
	}

	if err := sb.RecomputeExports(); err != nil {
		return nil, err
	}

	var children []childDir
	seen := make(map[string]bool)
	for _, name := range vars {
		v, ok := bctx.Peek(name)
		if !ok {
			continue
		}
		list, ok := v.(*List)
		if !ok {
			return nil, &internalError{msg: fmt.Sprintf("%s holds %s", name, v.Type())}
		}
		for _, e := range list.elems {
			p, ok := e.(Path)
			if !ok {
				raw, _ := asString(e)
				p = NewPath(bctx, raw)
			}
			if seen[p.Full] {
				return nil, &ValidationError{
					Message: fmt.Sprintf("Directory (%s) registered multiple times in %s",
						mozpath.Rel(bctx.SrcDir(), p.Full), name),
					Context: bctx,
				}
			}
			seen[p.Full] = true
			children = append(children, childDir{dir: p.Full, metadata: sb.childMetadata()})
		}
	}
	return children, nil
}
