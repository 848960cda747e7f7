package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/document"
)

// recordingProvider wraps the null provider and records calls.
type recordingProvider struct {
	analysis.Provider

	mu            sync.Mutex
	bootstrapped  bool
	bootstrapRoot string
	watched       [][]string
	symbolQueries []string
	block         chan struct{}
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{Provider: analysis.NewNull()}
}

func (p *recordingProvider) Bootstrap(ctx context.Context, rootPath string) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bootstrapped = true
	p.bootstrapRoot = rootPath
	return nil
}

func (p *recordingProvider) DidChangeWatchedFiles(paths []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched = append(p.watched, paths)
}

func (p *recordingProvider) WorkspaceSymbols(ctx context.Context, query string) ([]analysis.SymbolInformation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbolQueries = append(p.symbolQueries, query)
	return []analysis.SymbolInformation{{Name: "found"}}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBootstrapRunsAsync(t *testing.T) {
	provider := newRecordingProvider()
	provider.block = make(chan struct{})
	ws := New(provider, zap.NewNop())
	ws.SetRoot("")

	ws.Bootstrap(context.Background())
	assert.False(t, ws.Ready(), "bootstrap must not block the caller")

	close(provider.block)
	waitFor(t, ws.Ready)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.True(t, provider.bootstrapped)
}

func TestWorkspaceSymbolsBeforeBootstrapIsEmpty(t *testing.T) {
	provider := newRecordingProvider()
	provider.block = make(chan struct{})
	defer close(provider.block)
	ws := New(provider, zap.NewNop())
	ws.Bootstrap(context.Background())

	symbols, err := ws.WorkspaceSymbols(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, symbols)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Empty(t, provider.symbolQueries, "provider must not be queried before bootstrap")
}

func TestWorkspaceSymbolsAfterBootstrap(t *testing.T) {
	provider := newRecordingProvider()
	ws := New(provider, zap.NewNop())
	ws.SetRoot("")
	ws.Bootstrap(context.Background())
	waitFor(t, ws.Ready)

	symbols, err := ws.WorkspaceSymbols(context.Background(), "fn")
	require.NoError(t, err)
	assert.Len(t, symbols, 1)
}

func TestInvalidateBumpsGeneration(t *testing.T) {
	ws := New(nil, zap.NewNop())

	before := ws.Generation()
	ws.Invalidate()
	ws.Invalidate()
	assert.Equal(t, before+2, ws.Generation())
}

func TestDidChangeWatchedFilesForwardsAndInvalidates(t *testing.T) {
	provider := newRecordingProvider()
	ws := New(provider, zap.NewNop())

	before := ws.Generation()
	ws.DidChangeWatchedFiles([]string{"/w/a.ql", "/w/b.ql"})

	assert.Equal(t, before+1, ws.Generation())
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.watched, 1)
	assert.Equal(t, []string{"/w/a.ql", "/w/b.ql"}, provider.watched[0])

	// Empty batches are dropped.
	ws.DidChangeWatchedFiles(nil)
	assert.Len(t, provider.watched, 1)
}

func TestNilProviderDefaultsToNull(t *testing.T) {
	ws := New(nil, zap.NewNop())
	ws.Bootstrap(context.Background())
	waitFor(t, ws.Ready)

	hover, err := ws.Hover(context.Background(), document.Snapshot{}, document.Position{})
	require.NoError(t, err)
	assert.Nil(t, hover)
}

func TestWatcherReportsSourceChanges(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var batches [][]string
	watcher, err := NewWatcher(dir, zap.NewNop(), func(paths []string) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, paths)
	})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	target := filepath.Join(dir, "main.ql")
	require.NoError(t, os.WriteFile(target, []byte("module main"), 0o644))
	// Non-source noise must not be reported.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1, "burst coalesces into one batch")
	assert.Contains(t, batches[0], target)
	for _, path := range batches[0] {
		assert.Equal(t, sourceExtension, filepath.Ext(path))
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	watcher, err := NewWatcher(t.TempDir(), zap.NewNop(), func([]string) {})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())

	require.NoError(t, watcher.Stop())
	require.NoError(t, watcher.Stop())
}
