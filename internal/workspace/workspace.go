// Package workspace adapts the abstract analysis.Provider to the
// server. It owns the bootstrap that runs once after initialized, a
// versioned snapshot handle invalidated on document or project
// change, and the filesystem watcher that feeds out-of-editor events
// back into analysis.
package workspace

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/document"
)

// Workspace fronts the Provider. Feature handlers go through it so
// pre-bootstrap requests degrade to best-effort empty answers instead
// of blocking.
type Workspace struct {
	provider analysis.Provider
	logger   *zap.Logger

	rootPath string

	// generation is the snapshot handle version. Writers bump it
	// atomically on any document or project change; Generation reads
	// the current value.
	generation atomic.Int64

	bootstrapped atomic.Bool

	mu      sync.Mutex
	watcher *Watcher
}

// New creates a façade over provider.
func New(provider analysis.Provider, logger *zap.Logger) *Workspace {
	if provider == nil {
		provider = analysis.NewNull()
	}
	return &Workspace{provider: provider, logger: logger}
}

// SetRoot records the workspace root taken from initialize.
func (w *Workspace) SetRoot(path string) { w.rootPath = path }

// Root returns the workspace root path, which may be empty for
// single-file sessions.
func (w *Workspace) Root() string { return w.rootPath }

// Ready reports whether bootstrap has completed.
func (w *Workspace) Ready() bool { return w.bootstrapped.Load() }

// Generation returns the current snapshot handle version.
func (w *Workspace) Generation() int64 { return w.generation.Load() }

// Invalidate publishes a new snapshot handle. Called on every
// document change and on project-level events.
func (w *Workspace) Invalidate() { w.generation.Add(1) }

// Bootstrap runs project discovery asynchronously and then starts
// the filesystem watcher. Requests arriving before it completes are
// served best-effort.
func (w *Workspace) Bootstrap(ctx context.Context) {
	go func() {
		if err := w.provider.Bootstrap(ctx, w.rootPath); err != nil {
			w.logger.Warn("workspace bootstrap failed",
				zap.String("root", w.rootPath),
				zap.Error(err),
			)
			// Best-effort service continues on whatever the provider
			// managed to load.
		}
		w.bootstrapped.Store(true)
		w.Invalidate()
		w.logger.Info("workspace bootstrap complete", zap.String("root", w.rootPath))

		if w.rootPath != "" {
			w.startWatcher()
		}
	}()
}

func (w *Workspace) startWatcher() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return
	}
	watcher, err := NewWatcher(w.rootPath, w.logger, func(paths []string) {
		w.DidChangeWatchedFiles(paths)
	})
	if err != nil {
		w.logger.Warn("filesystem watcher unavailable", zap.Error(err))
		return
	}
	if err := watcher.Start(); err != nil {
		w.logger.Warn("filesystem watcher failed to start", zap.Error(err))
		return
	}
	w.watcher = watcher
}

// DidChangeWatchedFiles forwards file events to the provider and
// refreshes the handle. Informational only; no reload is forced.
func (w *Workspace) DidChangeWatchedFiles(paths []string) {
	if len(paths) == 0 {
		return
	}
	w.provider.DidChangeWatchedFiles(paths)
	w.Invalidate()
}

// Shutdown stops the watcher.
func (w *Workspace) Shutdown() {
	w.mu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			w.logger.Debug("stopping watcher", zap.Error(err))
		}
	}
}

// Diagnostics forwards to the provider.
func (w *Workspace) Diagnostics(ctx context.Context, snapshot document.Snapshot) ([]analysis.Diagnostic, error) {
	return w.provider.Diagnostics(ctx, snapshot)
}

// Completions forwards to the provider.
func (w *Workspace) Completions(ctx context.Context, snapshot document.Snapshot, pos document.Position, trigger analysis.Trigger) (analysis.CompletionList, error) {
	return w.provider.Completions(ctx, snapshot, pos, trigger)
}

// ResolveCompletion forwards to the provider.
func (w *Workspace) ResolveCompletion(ctx context.Context, item analysis.CompletionItem) (analysis.CompletionItem, error) {
	return w.provider.ResolveCompletion(ctx, item)
}

// Hover forwards to the provider.
func (w *Workspace) Hover(ctx context.Context, snapshot document.Snapshot, pos document.Position) (*analysis.Hover, error) {
	return w.provider.Hover(ctx, snapshot, pos)
}

// Definition forwards to the provider.
func (w *Workspace) Definition(ctx context.Context, snapshot document.Snapshot, pos document.Position) ([]analysis.Location, error) {
	return w.provider.Definition(ctx, snapshot, pos)
}

// References forwards to the provider.
func (w *Workspace) References(ctx context.Context, snapshot document.Snapshot, pos document.Position, includeDeclaration bool) ([]analysis.Location, error) {
	return w.provider.References(ctx, snapshot, pos, includeDeclaration)
}

// PrepareRename forwards to the provider.
func (w *Workspace) PrepareRename(ctx context.Context, snapshot document.Snapshot, pos document.Position) (*analysis.RenameTarget, error) {
	return w.provider.PrepareRename(ctx, snapshot, pos)
}

// Rename forwards to the provider.
func (w *Workspace) Rename(ctx context.Context, snapshot document.Snapshot, pos document.Position, newName string) (map[string][]analysis.TextEdit, error) {
	return w.provider.Rename(ctx, snapshot, pos, newName)
}

// DocumentSymbols forwards to the provider.
func (w *Workspace) DocumentSymbols(ctx context.Context, snapshot document.Snapshot) ([]analysis.DocumentSymbol, error) {
	return w.provider.DocumentSymbols(ctx, snapshot)
}

// WorkspaceSymbols is the one project-wide query; before bootstrap
// completes it answers empty rather than racing discovery.
func (w *Workspace) WorkspaceSymbols(ctx context.Context, query string) ([]analysis.SymbolInformation, error) {
	if !w.Ready() {
		return nil, nil
	}
	return w.provider.WorkspaceSymbols(ctx, query)
}
