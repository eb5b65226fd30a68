package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/infrastructure/mcp"
	"github.com/vertexmcp/vertexmcp/pkg/safego"
)

// ServerListWatcher watches mcp.json and republishes the external
// tool-server list when it changes, so new servers can be connected
// without a restart.
type ServerListWatcher struct {
	homeDir string
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	mu      sync.RWMutex
	servers []mcp.ServerConfig

	onChange func([]mcp.ServerConfig)
	stopOnce sync.Once
	done     chan struct{}
}

// NewServerListWatcher creates a watcher seeded with the current file
// contents. onChange fires on every successful reload.
func NewServerListWatcher(homeDir string, onChange func([]mcp.ServerConfig), logger *zap.Logger) (*ServerListWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ServerListWatcher{
		homeDir:  homeDir,
		logger:   logger.With(zap.String("component", "server-list-watcher")),
		watcher:  fsw,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	if servers, err := LoadMCPServers(homeDir); err == nil {
		w.servers = servers
	}

	// Watch the directory; the file itself may not exist yet or may be
	// replaced atomically by editors.
	dir := filepath.Join(homeDir, ".vertexmcp")
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("Cannot watch config directory", zap.String("dir", dir), zap.Error(err))
	}

	safego.Go(w.logger, "server-list-watcher", w.loop)
	return w, nil
}

// Servers returns the last successfully loaded list.
func (w *ServerListWatcher) Servers() []mcp.ServerConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]mcp.ServerConfig, len(w.servers))
	copy(out, w.servers)
	return out
}

func (w *ServerListWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "mcp.json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *ServerListWatcher) reload() {
	servers, err := LoadMCPServers(w.homeDir)
	if err != nil {
		w.logger.Warn("Ignoring unparseable mcp.json", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.servers = servers
	w.mu.Unlock()

	w.logger.Info("Tool server list reloaded", zap.Int("servers", len(servers)))
	if w.onChange != nil {
		w.onChange(servers)
	}
}

// Stop shuts the watcher down. Idempotent.
func (w *ServerListWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}
