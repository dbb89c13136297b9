// Package rpc exposes game state via a JSON-RPC 2.0 HTTP endpoint and a
// websocket event stream.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/gameerr"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// RuleData is the data member of a CodeRuleViolation error.
type RuleData struct {
	Code     gameerr.Code      `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000

	// CodeRuleViolation marks an operation a game rule refused. The rule
	// code travels in data.code; every other code is an infrastructure
	// failure.
	CodeRuleViolation = -32010
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// failure maps err onto the right JSON-RPC error: rule rejections and
// missing records become CodeRuleViolation, the rest internal errors.
func failure(id any, err error) Response {
	var ge *gameerr.Error
	switch {
	case errors.As(err, &ge):
	case errors.Is(err, core.ErrNotFound):
		ge = gameerr.New(gameerr.CodeNotFound, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    CodeRuleViolation,
			Message: ge.Error(),
			Data:    RuleData{Code: ge.Code, Metadata: ge.Metadata},
		},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
