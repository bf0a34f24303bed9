package monitoring

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactWatcher reports changes to the model artifact file. The running
// predictor is immutable, so a change only takes effect after a restart.
type ArtifactWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	metrics  *Collector
	onChange func(fsnotify.Event)
}

// NewArtifactWatcher watches the directory holding path. Watching the
// directory keeps working across the temp-file rename used when saving.
func NewArtifactWatcher(path string, logger *zap.Logger, metrics *Collector) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &ArtifactWatcher{
		path:    filepath.Clean(path),
		watcher: w,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// OnChange registers a callback run for every relevant event. Must be called
// before Run.
func (a *ArtifactWatcher) OnChange(fn func(fsnotify.Event)) {
	a.onChange = fn
}

// Run blocks until ctx is cancelled or the watcher fails.
func (a *ArtifactWatcher) Run(ctx context.Context) error {
	defer a.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != a.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if a.metrics != nil {
				a.metrics.ArtifactChangesTotal.Inc()
			}
			a.logger.Warn("model artifact changed on disk, restart the server to load it",
				zap.String("path", a.path), zap.String("op", ev.Op.String()))
			if a.onChange != nil {
				a.onChange(ev)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Error("artifact watcher error", zap.Error(err))
		}
	}
}
