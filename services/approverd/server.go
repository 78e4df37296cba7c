package approverd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"evlvault/approver"
	"evlvault/crypto"
	"evlvault/native/evolution"
	"evlvault/observability"
)

const maxSignRequestBytes = 16 << 10

// Server exposes the approver signer over HTTP.
type Server struct {
	signer  *approver.Signer
	policy  *Policy
	store   *Store
	auth    *Authenticator
	metrics *observability.ApproverMetrics
	logger  *slog.Logger
	nowFn   func() time.Time

	limitMu  sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter

	router http.Handler
}

// ServerOption customises NewServer.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for skew checks.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewServer wires the signing handlers.
func NewServer(signer *approver.Signer, policy *Policy, store *Store, auth *Authenticator, limits RateLimitConfig, opts ...ServerOption) (*Server, error) {
	if signer == nil {
		return nil, approver.ErrNoKey
	}
	if policy == nil || store == nil || auth == nil {
		return nil, errors.New("approverd: policy, store and authenticator are required")
	}
	s := &Server{
		signer:   signer,
		policy:   policy,
		store:    store,
		auth:     auth,
		metrics:  observability.Approverd(),
		logger:   slog.Default(),
		nowFn:    time.Now,
		limit:    rate.Limit(limits.PerSecond),
		burst:    limits.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
	if s.limit <= 0 {
		s.limit = 1
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "approverd"))

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/approver", s.handleApprover)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/v1/registrations/sign", s.handleSign)
		r.Get("/v1/registrations", s.handleList)
	})
	s.router = otelhttp.NewHandler(r, "approverd")
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type signRequest struct {
	VerificationType uint8   `json:"verificationType"`
	Referrer         string  `json:"referrer,omitempty"`
	Timestamp        *uint64 `json:"timestamp,omitempty"`
	User             string  `json:"user,omitempty"`
}

// SignResponse is returned for every issued signature.
type SignResponse struct {
	ID               string `json:"id"`
	VerificationType uint8  `json:"verificationType"`
	Referrer         string `json:"referrer"`
	Timestamp        uint64 `json:"timestamp"`
	Commitment       string `json:"commitment"`
	Signature        string `json:"signature"`
	Approver         string `json:"approver"`
}

func (s *Server) handleApprover(w http.ResponseWriter, _ *http.Request) {
	addr := s.signer.Address()
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"bech32":  crypto.FromCommon(addr).String(),
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	client := ClientFromContext(r.Context())
	if !s.allow(client) {
		s.reject(w, http.StatusTooManyRequests, "rate_limit", "rate limit exceeded", client)
		return
	}
	var req signRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, "bad_request", "invalid request body", client)
		return
	}
	vt := evolution.VerificationType(req.VerificationType)
	if !vt.Valid() {
		s.reject(w, http.StatusBadRequest, "verification_type", "unknown verification type", client)
		return
	}
	var referrer common.Address
	if strings.TrimSpace(req.Referrer) != "" {
		parsed, err := crypto.ParseAddress(req.Referrer)
		if err != nil {
			s.reject(w, http.StatusBadRequest, "referrer", "invalid referrer address", client)
			return
		}
		referrer = parsed
	}
	var user common.Address
	if strings.TrimSpace(req.User) != "" {
		parsed, err := crypto.ParseAddress(req.User)
		if err != nil {
			s.reject(w, http.StatusBadRequest, "user", "invalid user address", client)
			return
		}
		user = parsed
	}
	if user != (common.Address{}) && user == referrer {
		s.reject(w, http.StatusBadRequest, "self_referral", "user cannot refer itself", client)
		return
	}

	now := s.nowFn()
	timestamp := uint64(now.Unix())
	if req.Timestamp != nil {
		timestamp = *req.Timestamp
	}
	if err := s.policy.Check(vt, timestamp, now); err != nil {
		reason := "policy"
		switch {
		case errors.Is(err, ErrVerificationNotAllowed):
			reason = "verification_not_allowed"
		case errors.Is(err, ErrTimestampSkew):
			reason = "timestamp_skew"
		}
		s.reject(w, http.StatusUnprocessableEntity, reason, err.Error(), client)
		return
	}

	approval, err := s.signer.SignRegistration(r.Context(), vt, referrer, timestamp)
	if err != nil {
		s.logger.Error("sign registration failed", slog.Any("error", err))
		s.reject(w, http.StatusInternalServerError, "signer", "signing failed", client)
		return
	}
	entry := &Issuance{
		Client:           client,
		VerificationType: uint8(vt),
		Referrer:         referrer.Hex(),
		Timestamp:        timestamp,
		Commitment:       approval.Commitment.Hex(),
		Signature:        approval.Signature.Hex(),
		Approver:         approval.Approver.Hex(),
	}
	if user != (common.Address{}) {
		entry.User = user.Hex()
	}
	record := s.store.Record
	if s.policy.SingleUse() {
		record = s.store.RecordOnce
	}
	if err := record(r.Context(), entry); err != nil {
		if errors.Is(err, ErrAlreadyIssued) {
			s.reject(w, http.StatusConflict, "already_issued", "commitment already issued", client)
			return
		}
		s.logger.Error("record issuance failed", slog.Any("error", err))
		s.reject(w, http.StatusInternalServerError, "audit", "audit log unavailable", client)
		return
	}

	s.metrics.RecordSignature(vt.String(), time.Since(started))
	s.logger.Info("registration signed",
		slog.String("client", client),
		slog.String("commitment", entry.Commitment),
		slog.String("verification", vt.String()),
		slog.String("referrer", entry.Referrer))
	writeJSON(w, http.StatusOK, SignResponse{
		ID:               entry.ID.String(),
		VerificationType: entry.VerificationType,
		Referrer:         entry.Referrer,
		Timestamp:        timestamp,
		Commitment:       entry.Commitment,
		Signature:        entry.Signature,
		Approver:         entry.Approver,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list issuances failed", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) allow(client string) bool {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, message, client string) {
	s.metrics.RecordRejection(reason)
	s.logger.Warn("signing request rejected",
		slog.String("client", client),
		slog.String("reason", reason),
		slog.Int("status", status))
	writeJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
