package approverd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"evlvault/approver"
	"evlvault/core/state"
	"evlvault/crypto"
	"evlvault/native/evolution"
	"evlvault/storage"
)

const testSecret = "approverd-test-secret"

type testHarness struct {
	server *Server
	signer *approver.Signer
	store  *Store
	now    time.Time
}

func newHarness(t *testing.T, policy PolicyConfig, limits RateLimitConfig) *testHarness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer, err := approver.NewSigner(key)
	require.NoError(t, err)

	if policy.MaxTimestampSkew.Duration == 0 {
		policy.MaxTimestampSkew.Duration = 5 * time.Minute
	}
	if len(policy.AllowedVerificationTypes) == 0 {
		policy.AllowedVerificationTypes = []uint8{0, 1}
	}
	p, err := NewPolicy(policy)
	require.NoError(t, err)

	store, err := OpenStore(AuditConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	auth, err := NewAuthenticator(AuthConfig{JWTSecret: testSecret, Issuer: "evl-tests", ClockSkew: Duration{time.Minute}})
	require.NoError(t, err)

	if limits.PerSecond == 0 {
		limits = RateLimitConfig{PerSecond: 100, Burst: 100}
	}
	now := time.Unix(1_700_000_000, 0)
	srv, err := NewServer(signer, p, store, auth, limits, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return &testHarness{server: srv, signer: signer, store: store, now: now}
}

func clientToken(t *testing.T, subject, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "evl-tests",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (h *testHarness) sign(t *testing.T, token string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/registrations/sign", bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func TestSignIssuesRecoverableApproval(t *testing.T) {
	h := newHarness(t, PolicyConfig{}, RateLimitConfig{})
	token := clientToken(t, "backend-1", testSecret)
	referrer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	ts := uint64(h.now.Unix())

	rec := h.sign(t, token, map[string]interface{}{
		"verificationType": 1,
		"referrer":         crypto.FromCommon(referrer).String(),
		"timestamp":        ts,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	commitment := evolution.MakeCommitment(evolution.VerificationOrb, referrer, ts)
	require.Equal(t, commitment.Hex(), resp.Commitment)
	require.Equal(t, h.signer.Address().Hex(), resp.Approver)

	sig, err := crypto.DecodeSignature(resp.Signature)
	require.NoError(t, err)
	recovered, err := crypto.RecoverTextSigner(commitment.Bytes(), sig)
	require.NoError(t, err)
	require.Equal(t, h.signer.Address(), recovered)

	entries, err := h.store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "backend-1", entries[0].Client)
	require.Equal(t, resp.ID, entries[0].ID.String())
}

func TestSignedApprovalRegistersWithEngine(t *testing.T) {
	h := newHarness(t, PolicyConfig{}, RateLimitConfig{})
	rec := h.sign(t, clientToken(t, "backend-1", testSecret), map[string]interface{}{"verificationType": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(h.now.Unix()), resp.Timestamp)

	engine := evolution.NewEngine(state.NewManager(storage.NewMemDB()))
	require.NoError(t, engine.InitGenesis(evolution.Genesis{
		TotalLevels: evolution.DefaultTotalLevels,
		Owner:       common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Approver:    h.signer.Address(),
	}))
	sig, err := crypto.DecodeSignature(resp.Signature)
	require.NoError(t, err)
	user := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	registered, err := engine.Register(evolution.RegistrationRequest{
		User:             user,
		VerificationType: evolution.VerificationDevice,
		Timestamp:        resp.Timestamp,
		Commitment:       common.HexToHash(resp.Commitment),
		Signature:        sig.Bytes(),
	})
	require.NoError(t, err)
	require.Equal(t, uint8(0), registered.Level)
}

func TestSignRequiresValidToken(t *testing.T) {
	h := newHarness(t, PolicyConfig{}, RateLimitConfig{})
	body := map[string]interface{}{"verificationType": 0}

	require.Equal(t, http.StatusUnauthorized, h.sign(t, "", body).Code)
	require.Equal(t, http.StatusUnauthorized, h.sign(t, clientToken(t, "backend-1", "wrong-secret"), body).Code)
	require.Equal(t, http.StatusUnauthorized, h.sign(t, clientToken(t, "", testSecret), body).Code)
}

func TestSignPolicyRejections(t *testing.T) {
	h := newHarness(t, PolicyConfig{AllowedVerificationTypes: []uint8{1}}, RateLimitConfig{})
	token := clientToken(t, "backend-1", testSecret)

	rec := h.sign(t, token, map[string]interface{}{"verificationType": 0})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	stale := uint64(h.now.Add(-10 * time.Minute).Unix())
	rec = h.sign(t, token, map[string]interface{}{"verificationType": 1, "timestamp": stale})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.sign(t, token, map[string]interface{}{"verificationType": 9})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.sign(t, token, map[string]interface{}{"verificationType": 1, "referrer": "0xnothex"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	self := common.HexToAddress("0x00000000000000000000000000000000000000d4").Hex()
	rec = h.sign(t, token, map[string]interface{}{"verificationType": 1, "referrer": self, "user": self})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.sign(t, token, map[string]interface{}{"verificationType": 1, "extra": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignReissuesSameCommitment(t *testing.T) {
	h := newHarness(t, PolicyConfig{}, RateLimitConfig{})
	token := clientToken(t, "backend-1", testSecret)
	body := map[string]interface{}{"verificationType": 1, "timestamp": uint64(h.now.Unix())}

	first := h.sign(t, token, body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := h.sign(t, token, body)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var a, b SignResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.Equal(t, a.Commitment, b.Commitment)
	require.NotEqual(t, a.ID, b.ID)

	entries, err := h.store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSignSingleUseRefusesReissue(t *testing.T) {
	h := newHarness(t, PolicyConfig{SingleUse: true}, RateLimitConfig{})
	token := clientToken(t, "backend-1", testSecret)
	body := map[string]interface{}{"verificationType": 1, "timestamp": uint64(h.now.Unix())}

	require.Equal(t, http.StatusOK, h.sign(t, token, body).Code)
	require.Equal(t, http.StatusConflict, h.sign(t, token, body).Code)
}

func TestSignRateLimitedPerClient(t *testing.T) {
	h := newHarness(t, PolicyConfig{}, RateLimitConfig{PerSecond: 0.001, Burst: 1})
	first := clientToken(t, "backend-1", testSecret)
	second := clientToken(t, "backend-2", testSecret)

	require.Equal(t, http.StatusOK, h.sign(t, first, map[string]interface{}{"verificationType": 0, "timestamp": uint64(h.now.Unix())}).Code)
	require.Equal(t, http.StatusTooManyRequests, h.sign(t, first, map[string]interface{}{"verificationType": 0, "timestamp": uint64(h.now.Unix()) - 1}).Code)
	require.Equal(t, http.StatusOK, h.sign(t, second, map[string]interface{}{"verificationType": 0, "timestamp": uint64(h.now.Unix()) - 2}).Code)
}

func TestApproverAndListEndpoints(t *testing.T) {
	h := newHarness(t, PolicyConfig{}, RateLimitConfig{})
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/approver", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, h.signer.Address().Hex(), info["address"])

	token := clientToken(t, "backend-1", testSecret)
	for i := 0; i < 3; i++ {
		body := map[string]interface{}{"verificationType": 0, "timestamp": uint64(h.now.Unix()) - uint64(i)}
		require.Equal(t, http.StatusOK, h.sign(t, token, body).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/registrations?limit=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []Issuance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)

	req = httptest.NewRequest(http.MethodGet, "/v1/registrations?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
