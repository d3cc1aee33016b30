package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config")

// Watch reloads path whenever it changes and hands the new config to
// onChange. Invalid edits are logged and skipped. The directory is watched
// rather than the file, so editors that replace the file on save still
// trigger a reload. Watch returns once the watcher is set up; it stops when
// ctx is done.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	name := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warnf("CONFIG: reload of %s failed: %v", path, err)
					continue
				}
				log.Infof("CONFIG: reloaded %s", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("CONFIG: watcher error: %v", err)
			}
		}
	}()
	return nil
}
