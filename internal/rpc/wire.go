// Package rpc encodes and decodes JSON-RPC 2.0 envelopes for the LSP
// wire. It recognizes requests, notifications, and responses, keeps
// the id's integer-or-string type intact when echoing it back, and
// preserves the null-versus-absent distinction for result and error.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

// Version is the only accepted jsonrpc field value. Missing is
// tolerated on input; it is always emitted on output.
const Version = "2.0"

// Message is a decoded inbound envelope: *Request, *Notification, or
// *Response.
type Message interface {
	isMessage()
}

// Request is an inbound call carrying an id the peer expects echoed
// on the response.
type Request struct {
	ID     jsonrpc2.ID
	Method string
	Params json.RawMessage
}

// Notification is a call without an id; it can never be replied to.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response is an inbound reply to a server-initiated request. The
// kernel sends none, but tolerates replies on the wire.
type Response struct {
	ID     jsonrpc2.ID
	Result json.RawMessage
	Error  *jsonrpc2.Error
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// envelope is the superset shape every inbound message unmarshals
// into. ID stays raw so that a literal null can be told apart from an
// absent field and from the integer zero.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc2.Error `json:"error"`
}

var nullLiteral = []byte("null")

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), nullLiteral)
}

// Decode parses one message body. A body that is not a JSON object,
// or a request carrying a null id, fails with a ParseError; a message
// matching none of the three shapes fails with InvalidRequest.
func Decode(body []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.ParseError,
			Message: fmt.Sprintf("invalid JSON body: %v", err),
		}
	}
	if env.JSONRPC != "" && env.JSONRPC != Version {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.InvalidRequest,
			Message: fmt.Sprintf("unsupported jsonrpc version %q", env.JSONRPC),
		}
	}

	switch {
	case env.Method != "" && env.ID != nil:
		if isNull(env.ID) {
			return nil, &jsonrpc2.Error{
				Code:    jsonrpc2.ParseError,
				Message: "request id must not be null",
			}
		}
		id, err := decodeID(env.ID)
		if err != nil {
			return nil, err
		}
		return &Request{ID: id, Method: env.Method, Params: env.Params}, nil

	case env.Method != "":
		return &Notification{Method: env.Method, Params: env.Params}, nil

	case env.ID != nil && !isNull(env.ID) && (env.Result != nil || env.Error != nil):
		if env.Result != nil && env.Error != nil {
			return nil, &jsonrpc2.Error{
				Code:    jsonrpc2.InvalidRequest,
				Message: "response carries both result and error",
			}
		}
		id, err := decodeID(env.ID)
		if err != nil {
			return nil, err
		}
		return &Response{ID: id, Result: env.Result, Error: env.Error}, nil
	}

	return nil, &jsonrpc2.Error{
		Code:    jsonrpc2.InvalidRequest,
		Message: "message is neither request, notification, nor response",
	}
}

// decodeID parses an id that is known to be present and non-null.
func decodeID(raw json.RawMessage) (jsonrpc2.ID, error) {
	var id jsonrpc2.ID
	if err := json.Unmarshal(raw, &id); err != nil {
		return jsonrpc2.ID{}, &jsonrpc2.Error{
			Code:    jsonrpc2.ParseError,
			Message: fmt.Sprintf("invalid request id %s: %v", raw, err),
		}
	}
	return id, nil
}

// outgoing is the wire shape of everything the server emits. RawID is
// rendered verbatim so error responses to unparseable requests can
// carry a null id.
type outgoing struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// EncodeResult builds a success response. A nil result is emitted as
// an explicit "result": null, which LSP requires for replies such as
// shutdown.
func EncodeResult(id jsonrpc2.ID, result interface{}) ([]byte, error) {
	raw := json.RawMessage(nullLiteral)
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("rpc: encoding result: %w", err)
		}
		raw = encoded
	}
	rawID, err := encodeID(&id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(outgoing{
		JSONRPC: Version,
		ID:      rawID,
		Result:  raw,
	})
}

// EncodeError builds an error response. A nil id produces "id": null,
// used when the offending request's id was never recovered.
func EncodeError(id *jsonrpc2.ID, rpcErr *jsonrpc2.Error) ([]byte, error) {
	rawID, err := encodeID(id)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(outgoing{
		JSONRPC: Version,
		ID:      rawID,
		Error:   rpcErr,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding error response: %w", err)
	}
	return body, nil
}

// EncodeNotification builds an outbound notification such as
// textDocument/publishDiagnostics.
func EncodeNotification(method string, params interface{}) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpc: encoding %s params: %w", method, err)
		}
		raw = encoded
	}
	return json.Marshal(outgoing{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	})
}

// encodeID renders an id for the wire. The pointer receiver on
// jsonrpc2.ID's MarshalJSON makes marshaling through the pointer the
// reliable path; nil stays a JSON null.
func encodeID(id *jsonrpc2.ID) (json.RawMessage, error) {
	if id == nil {
		return json.RawMessage(nullLiteral), nil
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding id: %w", err)
	}
	return raw, nil
}
