package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
)

func TestDecodeRequestIntegerID(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":7,"method":"textDocument/hover","params":{"a":1}}`))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, jsonrpc2.NewNumberID(7), req.ID)
	assert.Equal(t, "textDocument/hover", req.Method)
	assert.JSONEq(t, `{"a":1}`, string(req.Params))
}

func TestDecodeRequestStringID(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":"abc-1","method":"shutdown"}`))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, jsonrpc2.NewStringID("abc-1"), req.ID)
}

func TestDecodeNullIDIsParseError(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0","id":null,"method":"shutdown"}`))

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.ParseError, rpcErr.Code)
}

func TestDecodeNotification(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}`))
	require.NoError(t, err)

	note, ok := msg.(*Notification)
	require.True(t, ok)
	assert.Equal(t, "initialized", note.Method)
}

func TestDecodeMissingVersionTolerated(t *testing.T) {
	msg, err := Decode([]byte(`{"id":1,"method":"initialize"}`))
	require.NoError(t, err)
	_, ok := msg.(*Request)
	assert.True(t, ok)
}

func TestDecodeWrongVersionRejected(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"initialize"}`))

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidRequest, rpcErr.Code)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{bad}`))

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.ParseError, rpcErr.Code)
}

func TestDecodeResponseShapes(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`))
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.Nil(t, resp.Error)

	msg, err = Decode([]byte(`{"jsonrpc":"2.0","id":4,"error":{"code":-32601,"message":"nope"}}`))
	require.NoError(t, err)
	resp, ok = msg.(*Response)
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc2.MethodNotFound, resp.Error.Code)

	_, err = Decode([]byte(`{"jsonrpc":"2.0","id":5,"result":null,"error":{"code":1,"message":"x"}}`))
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidRequest, rpcErr.Code)
}

func TestDecodeUnclassifiableMessage(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0","foo":1}`))

	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc2.InvalidRequest, rpcErr.Code)
}

func TestEncodeResultPreservesIDType(t *testing.T) {
	body, err := EncodeResult(jsonrpc2.NewNumberID(42), map[string]bool{"ok": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":42,"result":{"ok":true}}`, string(body))

	body, err = EncodeResult(jsonrpc2.NewStringID("req-9"), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"req-9","result":null}`, string(body))
}

func TestEncodeResultNullIsExplicit(t *testing.T) {
	body, err := EncodeResult(jsonrpc2.NewNumberID(1), nil)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &decoded))
	raw, present := decoded["result"]
	require.True(t, present, "result field must be present on success")
	assert.Equal(t, "null", string(raw))
	_, hasError := decoded["error"]
	assert.False(t, hasError, "result and error are mutually exclusive")
}

func TestEncodeErrorWithNullID(t *testing.T) {
	body, err := EncodeError(nil, NewError(jsonrpc2.ParseError, "bad body"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"bad body"}}`, string(body))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   jsonrpc2.ID
	}{
		{name: "integer id", id: jsonrpc2.NewNumberID(977)},
		{name: "string id", id: jsonrpc2.NewStringID("a-b-c")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := EncodeResult(tt.id, []int{1, 2, 3})
			require.NoError(t, err)

			msg, err := Decode(body)
			require.NoError(t, err)
			resp, ok := msg.(*Response)
			require.True(t, ok)
			assert.Equal(t, tt.id, resp.ID)
		})
	}
}

func TestEncodeNotification(t *testing.T) {
	body, err := EncodeNotification("textDocument/publishDiagnostics", map[string]interface{}{
		"uri":         "file:///a.ql",
		"diagnostics": []int{},
	})
	require.NoError(t, err)

	msg, err := Decode(body)
	require.NoError(t, err)
	note, ok := msg.(*Notification)
	require.True(t, ok)
	assert.Equal(t, "textDocument/publishDiagnostics", note.Method)
}
