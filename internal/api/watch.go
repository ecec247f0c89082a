package api

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/provcat/internal/loader"
)

// settleDelay is how long a file must go without events before it is read.
const settleDelay = 200 * time.Millisecond

// watch ingests the dataset documents already in the watch directory, then
// every document file created or rewritten there until ctx is cancelled.
func (s *Server) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, s.watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.watchDir, err)
	}
	s.logger.Info("watching for dataset documents", slog.String("dir", s.watchDir))

	existing, err := loader.ScanDir(s.watchDir)
	if err != nil {
		return err
	}
	for _, path := range existing {
		s.ingestFile(ctx, path)
	}

	ticker := time.NewTicker(settleDelay / 2)
	defer ticker.Stop()
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 && isDir(event.Name) {
				if err := watchDirRecursive(watcher, event.Name); err != nil {
					s.logger.Warn("failed to watch new directory", slog.String("dir", event.Name), slog.String("error", err.Error()))
				}
				continue
			}
			if loader.IsDocumentFile(event.Name) {
				pending[event.Name] = time.Now()
			}

		case now := <-ticker.C:
			var ready []string
			for path, last := range pending {
				if now.Sub(last) >= settleDelay {
					ready = append(ready, path)
				}
			}
			slices.Sort(ready)
			for _, path := range ready {
				delete(pending, path)
				s.ingestFile(ctx, path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// ingestFile adds the datasets of one file and broadcasts the outcome.
func (s *Server) ingestFile(ctx context.Context, path string) {
	status, err := loader.IngestDatasets(ctx, s.index, loader.ReadFile(path), true, s.logger)
	ev := IngestEvent{File: path, Completed: status.Completed, Skipped: status.Skipped}
	if err != nil {
		ev.Error = err.Error()
		s.logger.Error("failed to ingest file", slog.String("file", path), slog.String("error", err.Error()))
	} else {
		s.logger.Info("ingested file", slog.String("file", path), slog.String("status", status.String()))
	}
	s.notifier.Broadcast(ev)
}

// watchDirRecursive adds a directory and all non-hidden subdirectories to
// the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
