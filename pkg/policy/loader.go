package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader loads Rego modules from files and directories.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]*Module
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new module loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Module),
	}
}

// LoadFromPaths loads modules from a list of file or directory paths.
// Directories are searched recursively for .rego and .json files.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Module, error) {
	var all []Module
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		modules, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, modules...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policy modules loaded")
	return all, nil
}

func (l *Loader) loadFromPath(path string) ([]Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(path)
	}
	m, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Module{*m}, nil
}

func (l *Loader) loadFromDirectory(dir string) ([]Module, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isModuleFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(files)

	modules := make([]Module, 0, len(files))
	for _, path := range files {
		m, err := l.loadFromFile(path)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *m)
	}
	return modules, nil
}

func isModuleFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

func (l *Loader) loadFromFile(path string) (*Module, error) {
	l.mu.RLock()
	if cached, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var m *Module
	switch {
	case strings.HasSuffix(path, ".rego"):
		m = &Module{
			Name:        filepath.Base(path),
			Description: extractDescription(string(data)),
			Rego:        string(data),
		}
	case strings.HasSuffix(path, ".json"):
		m = &Module{}
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to parse JSON module %s: %w", path, err)
		}
		if m.Name == "" {
			m.Name = strings.TrimSuffix(filepath.Base(path), ".json") + ".rego"
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	m.Source = path

	l.mu.Lock()
	l.cache[path] = m
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("module", m.Name).Msg("Policy module loaded")
	return m, nil
}

// extractDescription returns the leading comment block of a Rego file.
func extractDescription(content string) string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" || b.Len() > 0 {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(comment)
	}
	return b.String()
}

// Watch reloads the modules under paths whenever one of their files is
// written or created, and hands them to reloadFn. It returns once the
// watcher is set up; watching stops when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Module) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Module) error) {
	var reloadTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isModuleFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policy modules")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Module) error) error {
	modules, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := reloadFn(modules); err != nil {
		return fmt.Errorf("failed to apply reloaded modules: %w", err)
	}
	l.logger.Info().Int("count", len(modules)).Msg("Policy modules reloaded")
	return nil
}

// ClearCache forgets every loaded module.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Module)
}
