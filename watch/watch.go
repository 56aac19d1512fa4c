// Package watch waits for files to show up on disk.
package watch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// WaitForFile returns once path exists as a regular file. It watches the
// parent directory for create and write events until then, or until ctx
// ends.
func WaitForFile(ctx context.Context, path string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dir, base := filepath.Dir(path), filepath.Base(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch directory %s", dir)
	}

	// checked after Add so a file created in between is not missed
	if isRegular(path) {
		return nil
	}
	log.WithField("file", path).Info("waiting for file")

	for {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %s", path)
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if event.Op&fsnotify.Create != fsnotify.Create && event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if isRegular(path) {
				log.WithField("file", path).Debug("file appeared")
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
