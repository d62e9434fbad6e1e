package commands

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchDelay debounces bursts of file events from editors.
const watchDelay = 300 * time.Millisecond

// watch calls run, then again whenever one of the files it returned
// changes, until the command context is canceled. Run errors are logged and
// do not stop the watch.
func (a *app) watch(cmd *cobra.Command, file string, run func() ([]string, error)) error {
	ctx := cmd.Context()
	logger := a.tel.Logger.NewComponentLogger("watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Directories are watched rather than files so that editors replacing a
	// file by rename are still seen.
	dirs := make(map[string]bool)
	watched := make(map[string]bool)
	track := func(files []string) {
		clear(watched)
		for _, f := range append(files, file) {
			abs, err := filepath.Abs(f)
			if err != nil {
				continue
			}
			watched[abs] = true
			dir := filepath.Dir(abs)
			if dirs[dir] {
				continue
			}
			if err := watcher.Add(dir); err != nil {
				logger.WithError(err).Warnf("Failed to watch %s", dir)
				continue
			}
			dirs[dir] = true
		}
	}

	runOnce := func() {
		files, err := run()
		if err != nil {
			logger.WithError(err).Error("Generation failed")
		}
		track(files)
	}

	runOnce()
	logger.Infof("Watching %d files", len(watched))

	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !watched[event.Name] {
				continue
			}
			logger.WithField("file", event.Name).Debug("Description changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDelay, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			runOnce()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Watch error")
		}
	}
}
