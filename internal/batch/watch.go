package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dunamismax/pixelfolio/internal/catalog"
)

const debounceDelay = 500 * time.Millisecond

// Watch builds once, then rebuilds whenever the projects file or a project
// image folder changes. It returns when ctx is cancelled.
func (b *Builder) Watch(ctx context.Context, projectsPath, listingPath string) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsWatcher.Close()

	rebuild := func() {
		report, err := b.Run(ctx, projectsPath, listingPath)
		if err != nil && ctx.Err() == nil {
			b.logger.Printf("build failed run_id=%s err=%v", report.RunID, err)
		}
		b.watchFolders(fsWatcher, projectsPath)
	}
	rebuild()

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if !b.relevant(event, projectsPath, listingPath) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounceDelay)
			trigger = timer.C

		case <-trigger:
			trigger = nil
			b.logger.Printf("change detected, rebuilding")
			rebuild()

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Printf("watcher error: %v", err)
		}
	}
}

// watchFolders adds the projects directory and every existing image folder.
// Adding a path twice is a no-op for fsnotify.
func (b *Builder) watchFolders(w *fsnotify.Watcher, projectsPath string) {
	dirs := []string{filepath.Dir(projectsPath)}

	loaded, err := catalog.Load(projectsPath, catalog.LoadOptions{})
	root, rootErr := b.root(projectsPath)
	if err == nil && rootErr == nil {
		for _, p := range loaded.Projects {
			dirs = append(dirs, filepath.Join(root, filepath.FromSlash(p.ImageFolder)))
		}
	}

	for _, dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			b.logger.Printf("watch failed path=%s err=%v", dir, err)
		}
	}
}

// relevant filters out events caused by the build's own output.
func (b *Builder) relevant(event fsnotify.Event, projectsPath, listingPath string) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if filepath.Clean(event.Name) == filepath.Clean(listingPath) {
		return false
	}
	if name == b.cfg.Build.ResizedDir {
		return false
	}
	if sameFile(event.Name, projectsPath) {
		return true
	}
	return catalog.IsImage(name, b.cfg.Build.ImageExtensions)
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
