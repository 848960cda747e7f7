package rpc

import "go.lsp.dev/jsonrpc2"

// LSP-reserved error codes layered on top of the base JSON-RPC set
// (jsonrpc2.ParseError through jsonrpc2.InternalError).
const (
	// CodeServerNotInitialized rejects any request received before
	// initialize.
	CodeServerNotInitialized jsonrpc2.Code = -32002

	// CodeRequestCancelled reports that the client cancelled the
	// request via $/cancelRequest.
	CodeRequestCancelled jsonrpc2.Code = -32800

	// CodeContentModified reports that the result was computed against
	// a snapshot that is no longer current and has been discarded.
	CodeContentModified jsonrpc2.Code = -32801
)

// NewError builds a *jsonrpc2.Error for the given code.
func NewError(code jsonrpc2.Code, message string) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: code, Message: message}
}
