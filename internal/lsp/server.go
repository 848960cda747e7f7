// Package lsp implements the Quill language server kernel: the
// lifecycle state machine, document synchronization, the debounced
// diagnostics pipeline, and the feature handlers that translate LSP
// requests into AnalysisProvider calls.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/diagnostics"
	"github.com/quill-lang/quill-ls/internal/dispatch"
	"github.com/quill-lang/quill-ls/internal/document"
	"github.com/quill-lang/quill-ls/internal/rpc"
	"github.com/quill-lang/quill-ls/internal/transport"
	"github.com/quill-lang/quill-ls/internal/workspace"
)

const serverName = "quill-ls"

// shutdownGrace bounds how long Run waits for in-flight handlers
// after the transport dies.
const shutdownGrace = 2 * time.Second

// messageType values for window/logMessage (the protocol package
// models these as a plain integer enum).
const (
	messageTypeError   = protocol.MessageType(1)
	messageTypeWarning = protocol.MessageType(2)
)

// Options configures a Server.
type Options struct {
	// Transport carries the protocol bytes. Required.
	Transport transport.Transport

	// Provider answers semantic queries. Nil installs the no-op
	// provider.
	Provider analysis.Provider

	// Logger receives structured logs on the side channel.
	Logger *zap.Logger

	// Version is reported in serverInfo.
	Version string

	// InitialSettings seeds the diagnostics configuration before the
	// client supplies initializationOptions.
	InitialSettings Settings
}

// Server is the LSP server kernel. One Server serves one peer over
// one transport; it is not restartable.
type Server struct {
	transport  transport.Transport
	dispatcher *dispatch.Dispatcher
	store      *document.Store
	workspace  *workspace.Workspace
	engine     *diagnostics.Engine
	lifecycle  *lifecycle
	logger     *zap.Logger
	version    string
}

// NewServer wires the kernel together. Traffic does not flow until
// Run.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		transport: opts.Transport,
		store:     document.NewStore(logger.Named("document")),
		workspace: workspace.New(opts.Provider, logger.Named("workspace")),
		lifecycle: newLifecycle(),
		logger:    logger,
		version:   opts.Version,
	}

	s.dispatcher = dispatch.New(opts.Transport, logger.Named("dispatch"))
	s.dispatcher.SetInterceptor(s.lifecycle.intercept)

	s.engine = diagnostics.New(s.workspace, s.store.Snapshot, s.publishDiagnostics, logger.Named("diagnostics"))
	s.engine.Configure(opts.InitialSettings.engineConfig())

	// The diagnostics engine is the store's only subscriber; the
	// workspace handle is refreshed on the same events.
	s.store.SetChangeListener(func(event document.ChangeEvent) {
		s.workspace.Invalidate()
		s.engine.DocumentChanged(event)
	})
	s.store.SetCloseListener(func(closedURI string) {
		s.workspace.Invalidate()
		s.engine.DocumentClosed(closedURI)
	})

	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	// Lifecycle methods run inline on the read loop: their responses
	// must precede any later outbound message, and no later inbound
	// message may be interpreted before the transition lands.
	s.dispatcher.RegisterSyncRequest(protocol.MethodInitialize, s.handleInitialize)
	s.dispatcher.RegisterSyncRequest(protocol.MethodShutdown, s.handleShutdown)
	s.dispatcher.RegisterNotification(protocol.MethodInitialized, s.handleInitialized)
	s.dispatcher.RegisterNotification(protocol.MethodExit, s.handleExit)

	// Document sync notifications also run inline so per-URI
	// operations keep arrival order end-to-end.
	s.dispatcher.RegisterNotification(protocol.MethodTextDocumentDidOpen, s.handleDidOpen)
	s.dispatcher.RegisterNotification(protocol.MethodTextDocumentDidChange, s.handleDidChange)
	s.dispatcher.RegisterNotification(protocol.MethodTextDocumentDidSave, s.handleDidSave)
	s.dispatcher.RegisterNotification(protocol.MethodTextDocumentDidClose, s.handleDidClose)
	s.dispatcher.RegisterNotification(protocol.MethodWorkspaceDidChangeConfiguration, s.handleDidChangeConfiguration)
	s.dispatcher.RegisterNotification(protocol.MethodWorkspaceDidChangeWatchedFiles, s.handleDidChangeWatchedFiles)

	// Feature requests run concurrently.
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentCompletion, s.handleCompletion)
	s.dispatcher.RegisterRequest(protocol.MethodCompletionItemResolve, s.handleCompletionResolve)
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentHover, s.handleHover)
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentDefinition, s.handleDefinition)
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentReferences, s.handleReferences)
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentPrepareRename, s.handlePrepareRename)
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentRename, s.handleRename)
	s.dispatcher.RegisterRequest(protocol.MethodTextDocumentDocumentSymbol, s.handleDocumentSymbol)
	s.dispatcher.RegisterRequest(protocol.MethodWorkspaceSymbol, s.handleWorkspaceSymbol)
}

// Run starts the transport and serves until the peer disconnects or
// exits. The returned code is the process exit code: 0 after a clean
// shutdown/exit pair, 1 otherwise.
func (s *Server) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.lifecycle.transition(StateStarting)
	if err := s.transport.Start(); err != nil {
		return 1, fmt.Errorf("starting transport: %w", err)
	}
	s.logger.Info("server started", zap.String("name", serverName), zap.String("version", s.version))

	var fatal error
	for {
		body, err := s.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				break
			}
			var framing *transport.FramingError
			if errors.As(err, &framing) {
				s.logger.Error("fatal framing error", zap.Error(framing))
				fatal = framing
				break
			}
			s.logger.Error("transport read failed", zap.Error(err))
			fatal = err
			break
		}

		msg, err := rpc.Decode(body)
		if err != nil {
			// A broken message gets its error response; the stream
			// itself is still healthy.
			var rpcErr *jsonrpc2.Error
			if !errors.As(err, &rpcErr) {
				rpcErr = rpc.NewError(jsonrpc2.ParseError, err.Error())
			}
			s.logger.Warn("undecodable message", zap.Error(err))
			s.dispatcher.WriteError(nil, rpcErr)
			continue
		}

		s.dispatcher.Dispatch(ctx, msg)
	}

	// Unwind: release every in-flight request with RequestCancelled
	// before leaving.
	s.dispatcher.CancelAll()
	s.dispatcher.Wait(shutdownGrace)
	s.engine.Close()
	s.workspace.Shutdown()
	s.transport.Close()

	if fatal != nil {
		return 1, fatal
	}
	code := 1
	if s.lifecycle.current() == StateStopped {
		code = int(s.lifecycle.exitCode.Load())
	}
	s.logger.Info("server stopped", zap.Int("exitCode", code))
	return code, nil
}

// State reports the current lifecycle state.
func (s *Server) State() State { return s.lifecycle.current() }

// serverCapabilities extends the protocol capability set with the
// 3.17 positionEncoding field the library predates.
type serverCapabilities struct {
	protocol.ServerCapabilities
	PositionEncoding string `json:"positionEncoding"`
}

// initializeResult mirrors protocol.InitializeResult around the
// extended capability struct.
type initializeResult struct {
	Capabilities serverCapabilities   `json:"capabilities"`
	ServerInfo   *protocol.ServerInfo `json:"serverInfo,omitempty"`
}

func (s *Server) capabilities() serverCapabilities {
	return serverCapabilities{
		PositionEncoding: "utf-16",
		ServerCapabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindIncremental,
				Save: &protocol.SaveOptions{
					IncludeText: false,
				},
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"."},
				ResolveProvider:   true,
			},
			HoverProvider:      true,
			DefinitionProvider: true,
			ReferencesProvider: true,
			RenameProvider: &protocol.RenameOptions{
				PrepareProvider: true,
			},
			DocumentSymbolProvider:  true,
			WorkspaceSymbolProvider: true,
		},
	}
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("initialize params: %v", err))
		}
	}

	rootPath := ""
	if len(initParams.WorkspaceFolders) > 0 {
		rootPath = uri.URI(initParams.WorkspaceFolders[0].URI).Filename()
	} else if initParams.RootURI != "" {
		rootPath = initParams.RootURI.Filename()
	} else if initParams.RootPath != "" {
		rootPath = initParams.RootPath
	}
	s.workspace.SetRoot(rootPath)
	s.logger.Info("initialize received", zap.String("root", rootPath))

	if initParams.InitializationOptions != nil {
		if raw, err := json.Marshal(initParams.InitializationOptions); err == nil {
			if settings, ok := decodeSettings(raw); ok {
				s.engine.Configure(settings.engineConfig())
			}
		}
	}

	s.lifecycle.transition(StateInitializing)

	return initializeResult{
		Capabilities: s.capabilities(),
		ServerInfo: &protocol.ServerInfo{
			Name:    serverName,
			Version: s.version,
		},
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) error {
	s.lifecycle.transition(StateRunning)
	s.logger.Info("client initialized; bootstrapping workspace")
	s.workspace.Bootstrap(ctx)
	return nil
}

func (s *Server) handleShutdown(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.lifecycle.transition(StateShuttingDown)
	s.logger.Info("shutdown requested")
	return nil, nil
}

func (s *Server) handleExit(ctx context.Context, params json.RawMessage) error {
	code := int32(1)
	if s.lifecycle.current() == StateShuttingDown {
		code = 0
	}
	s.lifecycle.exitCode.Store(code)
	s.lifecycle.transition(StateStopped)
	s.logger.Info("exit received", zap.Int32("exitCode", code))

	// Closing the transport ends the read loop; Run finishes the
	// unwind.
	s.transport.Close()
	return nil
}

// publishDiagnostics is the engine's sink; it translates internal
// diagnostics to the wire and pushes them as a notification.
func (s *Server) publishDiagnostics(docURI string, version int32, diags []analysis.Diagnostic) {
	snapshot, open := s.store.Snapshot(docURI)
	wireDiags := make([]protocol.Diagnostic, 0, len(diags))
	if open {
		for _, d := range diags {
			wireDiags = append(wireDiags, toProtocolDiagnostic(snapshot, d))
		}
	}

	params := protocol.PublishDiagnosticsParams{
		URI:         protocol.DocumentURI(docURI),
		Version:     uint32(version),
		Diagnostics: wireDiags,
	}
	if err := s.dispatcher.Notify(protocol.MethodTextDocumentPublishDiagnostics, &params); err != nil {
		s.logger.Warn("publishing diagnostics failed",
			zap.String("uri", docURI),
			zap.Error(err),
		)
	}
}

// logMessage pushes a window/logMessage notification. Distinct from
// the stderr log sink: this one is for the user's eyes and travels
// over the protocol.
func (s *Server) logMessage(messageType protocol.MessageType, message string) {
	params := protocol.LogMessageParams{
		Type:    messageType,
		Message: message,
	}
	if err := s.dispatcher.Notify(protocol.MethodWindowLogMessage, &params); err != nil {
		s.logger.Debug("window/logMessage failed", zap.Error(err))
	}
}
