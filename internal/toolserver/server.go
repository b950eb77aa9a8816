package toolserver

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/memory"
	"medgraphrag/internal/observability"
	"medgraphrag/internal/tools"
)

// Server drives the request state machine:
//
//	Received → Validated → Recall-Augmented → Dispatched → (Responded | Failed)
//
// over a length-prefixed JSON frame stream.
type Server struct {
	Registry tools.Registry
	Memory   *memory.Store
	Tracer   string
}

// NewServer wires a Registry built from deps, tracing under tracerName.
func NewServer(deps *Deps, tracerName string) *Server {
	logger := observability.LoggerWithTrace(context.Background())
	registry := NewRegistry(deps, func(ev tools.DispatchEvent) {
		l := logger.Info()
		if ev.Err != nil {
			l = logger.Warn().Err(ev.Err)
		}
		l.Str("tool_name", ev.Name).Msg("toolserver: dispatched")
	})
	return &Server{Registry: registry, Memory: deps.Memory, Tracer: tracerName}
}

// Serve reads frames from r and writes response frames to w until r is
// exhausted or ctx is cancelled. One malformed frame ends the connection;
// one failed tool call does not — its failure is reported in that
// request's Response and the loop continues.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	tracer := observability.Tracer(s.Tracer)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := ReadFrame(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			resp := errorResponse("", apperr.Wrap(apperr.InvalidInput, "malformed request envelope", err))
			if werr := s.writeResponse(w, resp); werr != nil {
				return werr
			}
			continue
		}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}

		reqCtx, cancel := ctx, func() {}
		if req.Deadline != nil {
			reqCtx, cancel = context.WithDeadline(ctx, *req.Deadline)
		}
		reqCtx, span := tracer.Start(reqCtx, req.ToolName)
		resp := s.handleRequest(reqCtx, req)
		span.End()
		cancel()

		if err := s.writeResponse(w, resp); err != nil {
			return err
		}
	}
}

func (s *Server) writeResponse(w io.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	logger := observability.LoggerWithTrace(ctx)

	if req.ToolName == "" {
		return errorResponse(req.RequestID, apperr.New(apperr.InvalidInput, "tool_name is required"))
	}

	var recallCtx any
	if searchFamily[req.ToolName] {
		if query, ok := queryTextFor(req.ToolName, req.Arguments); ok {
			recalled, err := s.Memory.Recall(ctx, query, 3, "", 0)
			if err != nil {
				logger.Warn().Err(err).Str("tool_name", req.ToolName).Msg("toolserver: auto-recall failed, continuing without context")
			} else if len(recalled) > 0 {
				recallCtx = recalled
				logger.Info().Str("tool_name", req.ToolName).Int("recalled", len(recalled)).Msg("toolserver: auto-recall attached memories")
			}
		}
	}

	result, warnings, err := s.Registry.Dispatch(ctx, req.ToolName, req.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			err = apperr.Wrap(apperr.DeadlineExceeded, "request deadline exceeded", ctx.Err())
		}
		if ae, ok := err.(*apperr.Error); ok {
			err = ae.WithTool(req.ToolName, req.RequestID)
		}
		return errorResponse(req.RequestID, err)
	}

	resp := Response{RequestID: req.RequestID, OK: true, Result: json.RawMessage(result), Warnings: warnings}
	if recallCtx != nil {
		if b, merr := json.Marshal(recallCtx); merr == nil {
			resp.Context = b
		}
	}
	return resp
}

// queryTextFor extracts the free-text query a search-family request should
// be auto-recalled against: "query" for document/image/hybrid search,
// "text" for graph_entity_search.
func queryTextFor(toolName string, raw json.RawMessage) (string, bool) {
	var probe struct {
		Query string `json:"query"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	if toolName == "graph_entity_search" {
		return probe.Text, probe.Text != ""
	}
	return probe.Query, probe.Query != ""
}
