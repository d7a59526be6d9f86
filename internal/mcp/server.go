// Package mcp exposes the verification runner as MCP tools over the streamable
// HTTP transport.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/handover-verify/internal/obs"
	"github.com/kuitang/handover-verify/internal/ratelimit"
)

const (
	// Path is where the MCP endpoint is mounted.
	Path = "/mcp"

	maxMCPBodyBytes = 1 << 20
)

// Server wraps the MCP server with the verification tools registered.
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
	token       string
	limiter     *ratelimit.Limiter
}

// NewServer creates the MCP server. A non-empty token requires every request to
// carry it as a bearer token.
func NewServer(handler *Handler, token string) *Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "handover-verify",
			Version: "1.0.0",
		},
		nil,
	)

	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			// plain JSON responses; clients need not speak SSE
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
		token:       token,
	}
}

// ServeHTTP implements http.Handler for the streamable HTTP transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := obs.From(r.Context()).With("pkg", "mcp")

	switch r.Method {
	case http.MethodPost, http.MethodDelete:
	default:
		// stateless JSON mode has no server-initiated stream to GET
		w.Header().Set("Allow", "POST, DELETE")
		writeJSONRPCError(w, http.StatusMethodNotAllowed, nil, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="handover-verify"`)
		writeJSONRPCError(w, http.StatusUnauthorized, nil, ErrorCodeInvalidRequest, "missing or invalid bearer token")
		return
	}

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMCPBodyBytes+1))
		if err != nil {
			log.Warn("mcp_body_read_failed", "error", err)
			writeJSONRPCError(w, http.StatusBadRequest, nil, ErrorCodeParseError, "failed to read request body")
			return
		}
		if len(body) > maxMCPBodyBytes {
			writeJSONRPCError(w, http.StatusRequestEntityTooLarge, nil, ErrorCodeInvalidRequest, "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	wrapped, recorder := obs.NewResponseRecorder(w)
	defer func() {
		if p := recover(); p != nil {
			log.Error("mcp_handler_panic", "panic", p)
			if !recorder.Wrote() {
				writeJSONRPCError(w, http.StatusInternalServerError, nil, ErrorCodeInternalError, "Internal server error")
			}
		}
	}()

	s.httpHandler.ServeHTTP(wrapped, r)

	if !recorder.Wrote() {
		log.Error("mcp_handler_no_response", "method", r.Method)
		writeJSONRPCError(w, http.StatusInternalServerError, nil, ErrorCodeInternalError, "MCP handler returned without writing response")
		return
	}
	if recorder.StatusCode() >= http.StatusBadRequest {
		log.Warn("mcp_request_failed", "method", r.Method, "status", recorder.StatusCode())
	}
}

// WithRateLimit throttles each client address with l. The caller owns l.
func (s *Server) WithRateLimit(l *ratelimit.Limiter) *Server {
	s.limiter = l
	return s
}

// Handler returns the server wrapped with request ids, access logging and,
// when configured, per-client rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	var h http.Handler = mux
	if s.limiter != nil {
		h = ratelimit.Middleware(s.limiter, ratelimit.RemoteIP, rejectRateLimited)(h)
	}
	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("mcp", h))
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	obs.From(r.Context()).Warn("mcp_rate_limited", "client", ratelimit.RemoteIP(r))
	writeJSONRPCError(w, http.StatusTooManyRequests, nil, ErrorCodeInvalidRequest, "rate limit exceeded")
}

// ListenAndServe serves the MCP endpoint on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// run_script can take as long as a whole script
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Pkg("mcp").Info("mcp_listening", "addr", ln.Addr().String(), "path", Path)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// writeJSONRPCError writes a JSON-RPC error envelope with the given HTTP status.
func writeJSONRPCError(w http.ResponseWriter, status int, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
