// Package toolserver implements the Tool Server (C8): a uniform
// request/response envelope dispatched over a length-prefixed JSON frame
// stream, plus the Auto-Recall Middleware (C9). Grounded on the teacher's
// internal/tools.Registry/Dispatch pattern (cmd/mcp-manifold's mcp-golang
// stdio transport is dropped — this wire format is spec-mandated, not
// MCP's JSON-RPC envelope).
package toolserver

import (
	"encoding/json"
	"time"

	"medgraphrag/internal/apperr"
)

// Request is the uniform envelope every tool call arrives in.
type Request struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	RequestID string          `json:"request_id"`
	Deadline  *time.Time      `json:"deadline,omitempty"`
}

// ErrorPayload is the response envelope's error shape, translated 1:1 from
// an *apperr.Error — the Tool Server is the single place that happens.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the uniform envelope every tool call returns. Warnings is
// populated when the result is a PartialResult (§7): some but not all of a
// composite operation's sub-services failed, so the response stays
// ok:true with the degraded result plus an explanation of what was lost.
type Response struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

func errorResponse(requestID string, err error) Response {
	kind := apperr.KindOf(err)
	return Response{
		RequestID: requestID,
		OK:        false,
		Error:     &ErrorPayload{Kind: string(kind), Message: err.Error()},
	}
}
