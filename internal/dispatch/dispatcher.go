// Package dispatch demultiplexes decoded JSON-RPC messages onto
// registered handlers, tracks in-flight requests for cancellation,
// and serializes every outbound write. It is the single point where
// handler results and failures become wire responses.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/rpc"
	"github.com/quill-lang/quill-ls/internal/transport"
)

// MethodCancelRequest is handled by the dispatcher itself, ahead of
// any registration, so cancellation never queues behind earlier work.
const MethodCancelRequest = "$/cancelRequest"

// RequestHandler serves one method. The returned value is marshaled
// as the result; a *jsonrpc2.Error return is sent verbatim, any other
// error maps to InternalError, and context cancellation maps to
// RequestCancelled.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler serves one notification method. Errors are
// logged only; notifications have no reply path.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Interceptor inspects a method before its handler runs. Returning a
// *jsonrpc2.Error rejects the message: requests get the error as
// their response, notifications are dropped. The lifecycle state
// machine is the only interceptor the kernel installs.
type Interceptor func(method string, isRequest bool) *jsonrpc2.Error

// requestRecord tracks one in-flight request from accept to response
// write or cancellation delivery, whichever comes first.
type requestRecord struct {
	id      jsonrpc2.ID
	method  string
	cancel  context.CancelFunc
	started time.Time
}

// Dispatcher routes messages, owns the in-flight table, and owns the
// write side of the transport.
type Dispatcher struct {
	writer interface {
		WriteMessage([]byte) error
	}
	logger      *zap.Logger
	interceptor Interceptor

	mu            sync.Mutex
	requests      map[string]RequestHandler
	syncRequests  map[string]bool
	notifications map[string]NotificationHandler

	inflightMu sync.Mutex
	inflight   map[jsonrpc2.ID]*requestRecord

	wg sync.WaitGroup
}

// New creates a dispatcher writing through t.
func New(t transport.Transport, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		writer:        t,
		logger:        logger,
		requests:      make(map[string]RequestHandler),
		syncRequests:  make(map[string]bool),
		notifications: make(map[string]NotificationHandler),
		inflight:      make(map[jsonrpc2.ID]*requestRecord),
	}
}

// SetInterceptor installs the pre-handler gate. Must be called before
// Dispatch is first used.
func (d *Dispatcher) SetInterceptor(i Interceptor) {
	d.interceptor = i
}

// RegisterRequest binds a request method to its handler. Each method
// has at most one handler; re-registration replaces it.
func (d *Dispatcher) RegisterRequest(method string, handler RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests[method] = handler
}

// RegisterSyncRequest binds a handler that runs inline on the read
// loop instead of on its own goroutine. Lifecycle methods use this so
// their responses are written before any later outbound message and
// so no later inbound message is examined until the transition took
// effect.
func (d *Dispatcher) RegisterSyncRequest(method string, handler RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests[method] = handler
	d.syncRequests[method] = true
}

// RegisterNotification binds a notification method to its handler.
func (d *Dispatcher) RegisterNotification(method string, handler NotificationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications[method] = handler
}

// Dispatch routes one decoded message. It never blocks on a request
// handler registered the normal way; the read loop keeps draining
// while handlers run.
func (d *Dispatcher) Dispatch(ctx context.Context, msg rpc.Message) {
	switch m := msg.(type) {
	case *rpc.Request:
		d.dispatchRequest(ctx, m)
	case *rpc.Notification:
		d.dispatchNotification(ctx, m)
	case *rpc.Response:
		// The kernel sends no requests of its own; a stray reply from
		// the peer is tolerated and dropped.
		d.logger.Debug("dropping unexpected response from peer")
	}
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, req *rpc.Request) {
	if d.interceptor != nil {
		if rpcErr := d.interceptor(req.Method, true); rpcErr != nil {
			d.WriteError(&req.ID, rpcErr)
			return
		}
	}

	d.mu.Lock()
	handler, ok := d.requests[req.Method]
	isSync := d.syncRequests[req.Method]
	d.mu.Unlock()

	if !ok {
		d.WriteError(&req.ID, rpc.NewError(jsonrpc2.MethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method)))
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	record := &requestRecord{
		id:      req.ID,
		method:  req.Method,
		cancel:  cancel,
		started: time.Now(),
	}
	d.inflightMu.Lock()
	d.inflight[req.ID] = record
	d.inflightMu.Unlock()

	if isSync {
		d.runRequest(reqCtx, req, handler)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runRequest(reqCtx, req, handler)
	}()
}

// runRequest invokes one handler and writes exactly one response on
// every exit path, including panic. The in-flight record is released
// no matter how the handler ends.
func (d *Dispatcher) runRequest(ctx context.Context, req *rpc.Request, handler RequestHandler) {
	defer d.release(req.ID)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			d.WriteError(&req.ID, rpc.NewError(jsonrpc2.InternalError,
				fmt.Sprintf("%s: internal error", req.Method)))
		}
	}()

	result, err := handler(ctx, req.Params)
	if err != nil {
		d.WriteError(&req.ID, d.toWireError(req.Method, err))
		return
	}

	// A completed result that lost the race to cancellation is still
	// sent; the peer discards it by id.
	d.writeResult(req.ID, result)
}

// toWireError maps a handler failure onto the JSON-RPC error space.
func (d *Dispatcher) toWireError(method string, err error) *jsonrpc2.Error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, context.Canceled) {
		d.logger.Debug("request cancelled", zap.String("method", method))
		return rpc.NewError(rpc.CodeRequestCancelled, fmt.Sprintf("%s: cancelled", method))
	}
	d.logger.Warn("handler failed",
		zap.String("method", method),
		zap.Error(err),
	)
	return rpc.NewError(jsonrpc2.InternalError, fmt.Sprintf("%s: %v", method, err))
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, note *rpc.Notification) {
	if note.Method == MethodCancelRequest {
		d.handleCancel(note.Params)
		return
	}

	if d.interceptor != nil {
		if rpcErr := d.interceptor(note.Method, false); rpcErr != nil {
			d.logger.Debug("dropping notification",
				zap.String("method", note.Method),
				zap.String("reason", rpcErr.Message),
			)
			return
		}
	}

	d.mu.Lock()
	handler, ok := d.notifications[note.Method]
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("no handler for notification", zap.String("method", note.Method))
		return
	}

	// Notifications run inline so per-URI document operations keep
	// their arrival order end-to-end.
	if err := handler(ctx, note.Params); err != nil {
		d.logger.Warn("notification handler failed",
			zap.String("method", note.Method),
			zap.Error(err),
		)
	}
}

// handleCancel delivers the cancellation signal to the in-flight
// request named by params.id. Unknown ids are silently ignored.
func (d *Dispatcher) handleCancel(params json.RawMessage) {
	var payload struct {
		ID jsonrpc2.ID `json:"id"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		d.logger.Debug("malformed $/cancelRequest params", zap.Error(err))
		return
	}

	d.inflightMu.Lock()
	record, ok := d.inflight[payload.ID]
	d.inflightMu.Unlock()
	if !ok {
		return
	}
	d.logger.Debug("cancelling request",
		zap.String("method", record.method),
		zap.Duration("running", time.Since(record.started)),
	)
	record.cancel()
}

// release removes the in-flight record and frees its context.
func (d *Dispatcher) release(id jsonrpc2.ID) {
	d.inflightMu.Lock()
	record, ok := d.inflight[id]
	delete(d.inflight, id)
	d.inflightMu.Unlock()
	if ok {
		record.cancel()
	}
}

// CancelAll cancels every in-flight request. Used when the transport
// dies so handlers unwind with RequestCancelled before exit.
func (d *Dispatcher) CancelAll() {
	d.inflightMu.Lock()
	records := make([]*requestRecord, 0, len(d.inflight))
	for _, record := range d.inflight {
		records = append(records, record)
	}
	d.inflightMu.Unlock()
	for _, record := range records {
		record.cancel()
	}
}

// Wait blocks until every asynchronous handler has finished, or the
// grace period lapses.
func (d *Dispatcher) Wait(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("handlers still running past shutdown grace period")
	}
}

// Notify writes an outbound notification such as
// textDocument/publishDiagnostics or window/logMessage.
func (d *Dispatcher) Notify(method string, params interface{}) error {
	body, err := rpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return d.write(body)
}

func (d *Dispatcher) writeResult(id jsonrpc2.ID, result interface{}) {
	body, err := rpc.EncodeResult(id, result)
	if err != nil {
		d.logger.Error("encoding result failed", zap.Error(err))
		d.WriteError(&id, rpc.NewError(jsonrpc2.InternalError, "result not serializable"))
		return
	}
	if err := d.write(body); err != nil {
		d.logger.Warn("writing response failed", zap.Error(err))
	}
}

// WriteError emits an error response. A nil id renders as null, used
// for parse errors where no id was recovered.
func (d *Dispatcher) WriteError(id *jsonrpc2.ID, rpcErr *jsonrpc2.Error) {
	body, err := rpc.EncodeError(id, rpcErr)
	if err != nil {
		d.logger.Error("encoding error response failed", zap.Error(err))
		return
	}
	if err := d.write(body); err != nil {
		d.logger.Warn("writing error response failed", zap.Error(err))
	}
}

// write is the single funnel to the transport; the transport also
// locks, so frames never interleave even under concurrent handlers.
func (d *Dispatcher) write(body []byte) error {
	return d.writer.WriteMessage(body)
}
