package lsp

import (
	"sync/atomic"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/quill-lang/quill-ls/internal/rpc"
)

// State is the server's position in the LSP lifecycle.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateInitializing
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// lifecycle enforces the legal message ordering around initialize,
// initialized, shutdown, and exit. It doubles as the dispatcher's
// interceptor, gating every inbound message before its handler runs.
type lifecycle struct {
	state    atomic.Int32
	exitCode atomic.Int32
}

func newLifecycle() *lifecycle {
	l := &lifecycle{}
	l.state.Store(int32(StateNotStarted))
	l.exitCode.Store(1) // exit without shutdown is a failure
	return l
}

func (l *lifecycle) current() State { return State(l.state.Load()) }

func (l *lifecycle) transition(to State) { l.state.Store(int32(to)) }

// intercept is the dispatch.Interceptor. Requests rejected here get
// the returned error as their response; notifications are dropped.
func (l *lifecycle) intercept(method string, isRequest bool) *jsonrpc2.Error {
	switch l.current() {
	case StateStarting:
		// initialize must be the first request; exit is honored in
		// any state.
		if method == protocol.MethodInitialize || method == protocol.MethodExit {
			return nil
		}
		if isRequest {
			return rpc.NewError(rpc.CodeServerNotInitialized, "server not initialized")
		}
		return rpc.NewError(rpc.CodeServerNotInitialized, "notification before initialize")

	case StateInitializing:
		switch method {
		case protocol.MethodInitialized, protocol.MethodExit, protocol.MethodShutdown:
			return nil
		case protocol.MethodInitialize:
			return rpc.NewError(jsonrpc2.InvalidRequest, "initialize already received")
		}
		if isRequest {
			return rpc.NewError(rpc.CodeServerNotInitialized, "server is initializing")
		}
		return rpc.NewError(rpc.CodeServerNotInitialized, "notification before initialized")

	case StateRunning:
		if method == protocol.MethodInitialize {
			return rpc.NewError(jsonrpc2.InvalidRequest, "initialize already received")
		}
		return nil

	case StateShuttingDown:
		// shutdown stays idempotent; exit completes the sequence.
		if method == protocol.MethodShutdown || method == protocol.MethodExit {
			return nil
		}
		return rpc.NewError(jsonrpc2.InvalidRequest, "server is shutting down")

	default: // StateNotStarted, StateStopped
		return rpc.NewError(jsonrpc2.InvalidRequest, "server is not accepting messages")
	}
}
