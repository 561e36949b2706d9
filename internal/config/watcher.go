package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"circuitshell/internal/logging"
	"circuitshell/internal/protocol"
)

// profileDebounce coalesces the write bursts editors produce on save.
const profileDebounce = 250 * time.Millisecond

// WatchBoardProfile reloads a board profile whenever the file changes
// and delivers the new payload to onChange. It blocks until ctx is
// done. Load errors after a change are logged and skipped so a
// half-saved file cannot kill the watcher.
func WatchBoardProfile(ctx context.Context, path string, onChange func(*protocol.ConfigurePayload)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating profile watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on
	// save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	log := logging.Get(logging.CategoryConfig)
	log.Info("watching board profile %s", path)

	var (
		pending *time.Timer
		fire    <-chan time.Time
	)

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(profileDebounce)
			} else {
				pending.Reset(profileDebounce)
			}
			fire = pending.C

		case <-fire:
			fire = nil
			payload, err := LoadBoardProfile(path)
			if err != nil {
				log.Warn("reloading board profile: %v", err)
				continue
			}
			log.Info("board profile %s reloaded", path)
			onChange(payload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("profile watcher: %v", err)
		}
	}
}
