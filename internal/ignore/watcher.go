package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a root's ignore rules when its ignore files change.
// SetRules is replace-only, so any edit, creation, or removal of an ignore
// file triggers a full rescan of that root.
type Watcher struct {
	fsw     *fsnotify.Watcher
	matcher *Matcher
	logger  *zap.Logger

	mu    sync.Mutex
	roots map[string]string // watched dir -> root path

	done   chan struct{}
	closed sync.Once
}

// NewWatcher starts a watcher that keeps the given matcher in sync
func NewWatcher(matcher *Matcher, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		matcher: matcher,
		logger:  logger,
		roots:   make(map[string]string),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// WatchRoot begins watching a workspace root's ignore directories. The root
// itself is watched so a .ctxfuse directory created later is picked up.
func (w *Watcher) WatchRoot(rootPath string) error {
	rootPath = filepath.Clean(rootPath)

	dirs := []string{rootPath}
	ctxDir := filepath.Join(rootPath, ".ctxfuse")
	if info, err := os.Stat(ctxDir); err == nil && info.IsDir() {
		dirs = append(dirs, ctxDir)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dir := range dirs {
		if _, ok := w.roots[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
		w.roots[dir] = rootPath
	}
	return nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ignore watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	p := filepath.ToSlash(event.Name)

	// A new .ctxfuse directory under a watched root needs its own watch
	if event.Op.Has(fsnotify.Create) && filepath.Base(p) == ".ctxfuse" {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			root, ok := w.roots[filepath.Dir(event.Name)]
			if ok {
				if err := w.fsw.Add(event.Name); err == nil {
					w.roots[event.Name] = root
				}
			}
			w.mu.Unlock()
		}
	}

	if !strings.HasSuffix(p, "/"+IgnoreFileSuffix) {
		return
	}

	w.mu.Lock()
	root, ok := w.roots[filepath.Dir(event.Name)]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.logger.Info("ignore file changed, reloading rules",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()))

	if err := LoadRules(w.matcher, root); err != nil {
		w.logger.Warn("failed to reload ignore rules",
			zap.String("root", root), zap.Error(err))
	}
}
