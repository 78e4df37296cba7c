package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"evlvault/core"
	"evlvault/native/evolution"
	"evlvault/observability"
	"evlvault/observability/logging"
	telemetry "evlvault/observability/otel"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeIneligible     = -32010
	codeArithmetic     = -32011
	codeRateLimited    = -32020
)

// ServerConfig tunes the JSON-RPC listener.
type ServerConfig struct {
	JWTSecret         string
	JWTIssuer         string
	JWTClockSkew      time.Duration
	RegisterRate      float64
	RegisterBurst     int
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	MetricsEnabled    bool
}

// Server exposes the evolution engine over JSON-RPC 2.0.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	auth    *adminAuthenticator
	limiter *sourceLimiter
	logger  *slog.Logger
	tracer  trace.Tracer
	handler http.Handler
	httpSrv *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		auth:    newAdminAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTClockSkew),
		limiter: newSourceLimiter(cfg.RegisterRate, cfg.RegisterBurst),
		logger:  logger.With(slog.String("component", "rpc")),
		tracer:  telemetry.Tracer(),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "evolution-rpc")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", ln.Addr().String()))
		errCh <- s.httpSrv.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func invalidParams(message string, err error) *RPCError {
	rpcErr := &RPCError{Code: codeInvalidParams, Message: message}
	if err != nil {
		rpcErr.Data = err.Error()
	}
	return rpcErr
}

// engineError maps the evolution error taxonomy onto JSON-RPC codes.
func engineError(err error) *RPCError {
	switch {
	case errors.Is(err, evolution.ErrValidation):
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, evolution.ErrAuthorization):
		return &RPCError{Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, evolution.ErrIneligible):
		return &RPCError{Code: codeIneligible, Message: err.Error()}
	case errors.Is(err, evolution.ErrArithmetic):
		return &RPCError{Code: codeArithmetic, Message: err.Error()}
	default:
		return &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}
	}
}

func statusForCode(code int) int {
	switch code {
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return http.StatusBadRequest
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeMethodNotFound:
		return http.StatusNotFound
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	w.WriteHeader(statusForCode(rpcErr.Code))
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := s.node.Engine().Params(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		rpcErr := &RPCError{Code: codeInvalidRequest, Message: "failed to read request body", Data: err.Error()}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rpcErr.Message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, nil, rpcErr)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method,
		trace.WithAttributes(attribute.String("rpc.method", req.Method), attribute.String("rpc.request_id", requestID)))
	defer span.End()

	started := time.Now()
	result, rpcErr := s.dispatch(ctx, r, req)
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.error_code", rpcErr.Code))
		observability.ModuleMetrics().Observe(req.Method, rpcErr.Code, time.Since(started))
		s.logger.Debug("json-rpc call failed",
			slog.String("method", req.Method),
			slog.String("request_id", requestID),
			slog.Int("code", rpcErr.Code),
			slog.String("reason", rpcErr.Message))
		writeError(w, req.ID, rpcErr)
		return
	}
	observability.ModuleMetrics().Observe(req.Method, 0, time.Since(started))
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(_ context.Context, r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "evolution_makeCommitment":
		return s.handleMakeCommitment(req)
	case "evolution_register":
		if !s.limiter.allow(clientSource(r)) {
			observability.ModuleMetrics().RecordThrottle(req.Method, "rate_limit")
			return nil, &RPCError{Code: codeRateLimited, Message: "registration rate limit exceeded"}
		}
		return s.handleRegister(req)
	case "evolution_promote":
		return s.handlePromote(req)
	case "evolution_getApprover":
		return s.handleGetApprover()
	case "evolution_getParams":
		return s.handleGetParams()
	case "evolution_getCriteria":
		return s.handleGetCriteria()
	case "evolution_getRewardPercentages":
		return s.handleGetRewardPercentages()
	case "evolution_isWhitelisted":
		return s.handleIsWhitelisted(req)
	case "evolution_getUser":
		return s.handleGetUser(req)
	case "evolution_previewReward":
		return s.handlePreviewReward(req)
	case "evolution_setApprover",
		"evolution_setRewardPercentages",
		"evolution_setCriteria",
		"evolution_setWhitelistBatch",
		"evolution_transferOwnership",
		"evolution_payReward":
		caller, err := s.auth.authenticate(r)
		if err != nil {
			s.logger.Warn("admin authentication failed",
				slog.String("method", req.Method),
				logging.MaskField("authorization", r.Header.Get("Authorization")),
				slog.Any("error", err))
			return nil, &RPCError{Code: codeUnauthorized, Message: err.Error()}
		}
		return s.dispatchAdmin(caller, req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %s", req.Method)}
	}
}
