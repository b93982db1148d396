// Package mcp implements the gateway's MCP surface: the JSON-RPC dispatch
// server, its three transports, the tool adapter, and the static
// resource/prompt registries.
package mcp

import (
	"encoding/json"
)

// JSON-RPC 2.0 reserved error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a parsed JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil && r.Method != ""
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a JSON-RPC 2.0 response envelope. Either Result or Error is
// set, never both.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification envelope (no id).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResult builds a success response echoing the request id.
func NewResult(id any, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewError builds an error response echoing the request id.
func NewError(id any, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// ParseRequest decodes and validates a JSON-RPC request envelope. On failure
// it returns an error response ready to send back (malformed JSON maps to
// -32700, a bad envelope to -32600).
func ParseRequest(data []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewError(nil, CodeParseError, "invalid json")
	}
	if req.JSONRPC != "2.0" {
		return nil, NewError(req.ID, CodeInvalidRequest, "invalid json-rpc version")
	}
	if req.Method == "" {
		return nil, NewError(req.ID, CodeInvalidRequest, "missing method")
	}
	return &req, nil
}

// Marshal encodes the response. Encoding failures are reported as an
// internal error response so the client always receives a valid envelope.
func (r *Response) Marshal() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(NewError(r.ID, CodeInternalError, "failed to encode response"))
		return fallback
	}
	return data
}

// Marshal encodes the notification.
func (n *Notification) Marshal() []byte {
	data, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	return data
}
