package commands

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/buildtree/pkg/frontend"
	"github.com/openfroyo/buildtree/pkg/policy"
)

// rereadDelay debounces bursts of file events into one re-read.
const rereadDelay = 300 * time.Millisecond

func newWatchCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-read the tree whenever a build file changes",
		Long: `Read the tree, then watch the source tree and read it again every time a
moz.build, *.mozbuild or *.cue file is written. Rego modules given with
--policy are recompiled when they change. A failing walk is reported and
watching continues.`,
		Example: `  # Watch with a nested configuration policy
  buildtree watch --policy policies/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			if s.loader != nil {
				err := s.loader.Watch(ctx, opts.policyPaths, func(ms []policy.Module) error {
					return s.decider.Reload(ctx, ms)
				})
				if err != nil {
					return err
				}
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()
			if err := addWatchDirs(watcher, filepath.FromSlash(s.cfg.TopSrcDir), filepath.FromSlash(s.cfg.TopObjDir)); err != nil {
				return err
			}

			fn := func(ctx context.Context, r *frontend.Reader) iter.Seq2[*frontend.Context, error] {
				return r.ReadTopSrcDir(ctx)
			}
			reread := func() {
				if err := s.walk(ctx, "watch", fn, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil && ctx.Err() == nil {
					s.log.Error().Err(err).Msg("Walk failed")
				}
			}
			reread()

			var timer *time.Timer
			var fire <-chan time.Time
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&fsnotify.Create != 0 {
						// New directories need watching too.
						_ = addWatchDirs(watcher, event.Name, filepath.FromSlash(s.cfg.TopObjDir))
					}
					if !isWatchedFile(event.Name) {
						continue
					}
					s.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Build file changed")
					if timer == nil {
						timer = time.NewTimer(rereadDelay)
					} else {
						timer.Reset(rereadDelay)
					}
					fire = timer.C
				case <-fire:
					fire = nil
					reread()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					s.log.Error().Err(err).Msg("Watcher error")
				}
			}
		},
	}
	return cmd
}

// addWatchDirs watches root and every directory below it except hidden
// directories and the output tree.
func addWatchDirs(w *fsnotify.Watcher, root, objdir string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p == objdir || (p != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func isWatchedFile(name string) bool {
	base := filepath.Base(name)
	return base == frontend.BuildFileName || strings.HasSuffix(base, ".mozbuild") || strings.HasSuffix(base, ".cue")
}
