// Package diagnostics runs the debounced per-URI computation queue
// behind textDocument/publishDiagnostics. Rapid edits coalesce into
// one computation against the latest version; a newer edit cancels
// whatever is still running for the same URI.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/document"
)

// DefaultDebounce is the delay applied after the last edit before
// analysis runs.
const DefaultDebounce = 300 * time.Millisecond

// Publisher delivers a finished diagnostics set to the client.
type Publisher func(uri string, version int32, diagnostics []analysis.Diagnostic)

// Computer is the analysis capability the engine drives; the
// workspace façade satisfies it.
type Computer interface {
	Diagnostics(ctx context.Context, snapshot document.Snapshot) ([]analysis.Diagnostic, error)
}

// Config is the engine's runtime-tunable knob set.
type Config struct {
	Debounce        time.Duration
	MinimumSeverity analysis.Severity
	Enabled         bool
}

// DefaultConfig returns the defaults: 300 ms debounce, Warning floor,
// enabled.
func DefaultConfig() Config {
	return Config{
		Debounce:        DefaultDebounce,
		MinimumSeverity: analysis.SeverityWarning,
		Enabled:         true,
	}
}

// slot is the per-URI coalescing state: at most one pending timer and
// one running task.
type slot struct {
	mu             sync.Mutex
	pendingVersion int32
	timer          *time.Timer
	running        *runHandle
}

// runHandle identifies one in-flight computation so a finished task
// only clears its own registration, never a successor's.
type runHandle struct {
	cancel context.CancelFunc
}

// Engine owns one slot per URI with published or pending diagnostics.
type Engine struct {
	computer Computer
	publish  Publisher
	logger   *zap.Logger

	configMu sync.RWMutex
	config   Config

	mu    sync.Mutex
	slots map[string]*slot

	// baseCtx parents every computation so Close can cancel them all.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// snapshot reads the latest text for a URI at fire time.
	snapshot func(uri string) (document.Snapshot, bool)
}

// New creates an engine. snapshot is consulted when the debounce
// timer fires so the computation always sees the newest text.
func New(computer Computer, snapshot func(uri string) (document.Snapshot, bool), publish Publisher, logger *zap.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		computer: computer,
		publish:  publish,
		logger:   logger,
		config:   DefaultConfig(),
		slots:    make(map[string]*slot),
		baseCtx:  ctx,
		cancel:   cancel,
		snapshot: snapshot,
	}
}

// Configure replaces the runtime knobs; later schedules observe the
// new values.
func (e *Engine) Configure(config Config) {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.MinimumSeverity == 0 {
		config.MinimumSeverity = analysis.SeverityWarning
	}
	e.configMu.Lock()
	e.config = config
	e.configMu.Unlock()
}

func (e *Engine) currentConfig() Config {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	return e.config
}

// DocumentChanged schedules computation for the edited URI. Earlier
// pending work for the same URI is superseded; a running task is
// cancelled.
func (e *Engine) DocumentChanged(event document.ChangeEvent) {
	config := e.currentConfig()
	if !config.Enabled {
		return
	}

	s := e.slotFor(event.URI)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingVersion = event.Version
	if s.running != nil {
		s.running.cancel()
		s.running = nil
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	version := event.Version
	s.timer = time.AfterFunc(config.Debounce, func() {
		e.fire(event.URI, version)
	})
}

// DocumentClosed publishes one empty set to clear the client UI, then
// forgets the URI.
func (e *Engine) DocumentClosed(uri string) {
	e.mu.Lock()
	s, exists := e.slots[uri]
	delete(e.slots, uri)
	e.mu.Unlock()

	if exists {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		if s.running != nil {
			s.running.cancel()
			s.running = nil
		}
		s.mu.Unlock()
	}
	e.publish(uri, 0, nil)
}

// Close cancels all outstanding work and waits briefly for it to
// unwind.
func (e *Engine) Close() {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		e.logger.Warn("diagnostics tasks still running at close")
	}
}

func (e *Engine) slotFor(uri string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, exists := e.slots[uri]
	if !exists {
		s = &slot{}
		e.slots[uri] = s
	}
	return s
}

// fire runs when the debounce window closes. A newer edit supersedes
// the shot; otherwise the computation starts against a fresh
// snapshot and a fresh cancellation signal.
func (e *Engine) fire(uri string, scheduledVersion int32) {
	e.mu.Lock()
	s, exists := e.slots[uri]
	e.mu.Unlock()
	if !exists {
		return // closed while debouncing
	}

	s.mu.Lock()
	if s.pendingVersion != scheduledVersion {
		s.mu.Unlock()
		return // superseded; the newer timer will handle it
	}
	snapshot, open := e.snapshot(uri)
	if !open {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	handle := &runHandle{cancel: cancel}
	s.running = handle
	s.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.running == handle {
				s.running = nil
			}
			s.mu.Unlock()
			cancel()
		}()
		e.compute(ctx, snapshot)
	}()
}

func (e *Engine) compute(ctx context.Context, snapshot document.Snapshot) {
	started := time.Now()
	diagnostics, err := e.computer.Diagnostics(ctx, snapshot)
	if err != nil {
		if ctx.Err() != nil {
			e.logger.Debug("diagnostics computation cancelled",
				zap.String("uri", snapshot.URI),
			)
			return
		}
		e.logger.Warn("diagnostics computation failed",
			zap.String("uri", snapshot.URI),
			zap.Error(err),
		)
		return
	}
	if ctx.Err() != nil {
		// A newer edit superseded this run; its result is stale.
		return
	}

	config := e.currentConfig()
	filtered := diagnostics[:0:0]
	for _, d := range diagnostics {
		if d.Severity == 0 || d.Severity <= config.MinimumSeverity {
			filtered = append(filtered, d)
		}
	}

	e.logger.Debug("publishing diagnostics",
		zap.String("uri", snapshot.URI),
		zap.Int32("version", snapshot.Version),
		zap.Int("count", len(filtered)),
		zap.Duration("took", time.Since(started)),
	)
	// An empty list still publishes; that is what clears stale
	// squiggles on the client.
	e.publish(snapshot.URI, snapshot.Version, filtered)
}
