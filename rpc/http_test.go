package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"nhooyr.io/websocket"

	"evlvault/approver"
	"evlvault/core"
	"evlvault/core/events"
	"evlvault/crypto"
	"evlvault/native/evolution"
	"evlvault/storage"
)

const (
	testJWTSecret = "rpc-test-secret"
	testJWTIssuer = "rpc-tests"
)

type testEnv struct {
	node   *core.Node
	server *Server
	http   *httptest.Server
	owner  common.Address
	signer *approver.Signer
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := approver.NewSigner(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	levels, criteria := evolution.DefaultCriteria()
	if _, err := node.InitGenesis(evolution.Genesis{
		TotalLevels:       evolution.DefaultTotalLevels,
		Owner:             owner,
		Approver:          signer.Address(),
		RewardPercentages: evolution.DefaultRewardPercentages(),
		CriteriaLevels:    levels,
		Criteria:          criteria,
		RewardPool:        big.NewInt(1_000_000_000),
	}); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	cfg := ServerConfig{
		JWTSecret:      testJWTSecret,
		JWTIssuer:      testJWTIssuer,
		RegisterRate:   1000,
		RegisterBurst:  1000,
		MetricsEnabled: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(node, cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{node: node, server: srv, http: ts, owner: owner, signer: signer}
}

type rpcResult struct {
	status int
	result json.RawMessage
	err    *RPCError
}

func (e *testEnv) call(t *testing.T, token, method string, params interface{}) rpcResult {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return e.post(t, token, body)
}

func (e *testEnv) post(t *testing.T, token string, body []byte) rpcResult {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResult{status: resp.StatusCode, result: decoded.Result, err: decoded.Error}
}

func (e *testEnv) token(t *testing.T, subject common.Address) string {
	t.Helper()
	token, err := IssueAdminToken(testJWTSecret, testJWTIssuer, subject, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) registerParams(t *testing.T, user, referrer common.Address, ts uint64) registerParams {
	t.Helper()
	approval, err := e.signer.SignRegistration(context.Background(), evolution.VerificationOrb, referrer, ts)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	params := registerParams{
		User:             user.Hex(),
		VerificationType: uint8(approval.VerificationType),
		Timestamp:        ts,
		Commitment:       approval.Commitment.Hex(),
		Signature:        approval.Signature.Hex(),
	}
	if referrer != (common.Address{}) {
		params.Referrer = referrer.Hex()
	}
	return params
}

func expectCode(t *testing.T, res rpcResult, code int) {
	t.Helper()
	if res.err == nil {
		t.Fatalf("expected error %d, got result %s", code, res.result)
	}
	if res.err.Code != code {
		t.Fatalf("expected error %d, got %d (%s)", code, res.err.Code, res.err.Message)
	}
}

func expectOK(t *testing.T, res rpcResult, dst interface{}) {
	t.Helper()
	if res.err != nil {
		t.Fatalf("unexpected error %d: %s (%v)", res.err.Code, res.err.Message, res.err.Data)
	}
	if dst != nil {
		if err := json.Unmarshal(res.result, dst); err != nil {
			t.Fatalf("decode result %s: %v", res.result, err)
		}
	}
}

func TestMakeCommitmentMatchesEngine(t *testing.T) {
	env := newTestEnv(t, nil)
	referrer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	var got makeCommitmentResult
	expectOK(t, env.call(t, "", "evolution_makeCommitment", makeCommitmentParams{
		VerificationType: 1,
		Referrer:         crypto.FromCommon(referrer).String(),
		Timestamp:        1_700_000_000,
	}), &got)
	want := evolution.MakeCommitment(evolution.VerificationOrb, referrer, 1_700_000_000)
	if got.Commitment != want.Hex() {
		t.Fatalf("commitment mismatch: got %s want %s", got.Commitment, want.Hex())
	}
	if len(got.Encoded) != 2+96*2 {
		t.Fatalf("unexpected encoded length %d", len(got.Encoded))
	}

	expectCode(t, env.call(t, "", "evolution_makeCommitment", makeCommitmentParams{VerificationType: 7}), codeInvalidParams)
}

func TestRegisterAndQueryUser(t *testing.T) {
	env := newTestEnv(t, nil)
	referrer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	user := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	var registered UserResult
	expectOK(t, env.call(t, "", "evolution_register", env.registerParams(t, referrer, common.Address{}, 1)), &registered)
	if registered.Level != 0 || registered.Verification != "orb" {
		t.Fatalf("unexpected registration %+v", registered)
	}
	expectOK(t, env.call(t, "", "evolution_register", env.registerParams(t, user, referrer, 2)), nil)

	var ref UserResult
	expectOK(t, env.call(t, "", "evolution_getUser", userParams{User: referrer.Hex()}), &ref)
	if ref.Referrals != 1 || ref.VerifiedReferrals != 1 {
		t.Fatalf("referrer counters not updated: %+v", ref)
	}
	if ref.Eligible {
		t.Fatalf("referrer must not be eligible yet")
	}

	// Same user again is a validation failure, not a second admission.
	expectCode(t, env.call(t, "", "evolution_register", env.registerParams(t, user, referrer, 3)), codeInvalidParams)
	expectCode(t, env.call(t, "", "evolution_getUser", userParams{User: common.HexToAddress("0x01").Hex()}), codeInvalidParams)
}

func TestRegisterRejectsForeignSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	other, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	commitment := evolution.MakeCommitment(evolution.VerificationDevice, common.Address{}, 5)
	sig, err := crypto.SignText(other, commitment.Bytes())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res := env.call(t, "", "evolution_register", registerParams{
		User:      common.HexToAddress("0x00000000000000000000000000000000000000c1").Hex(),
		Timestamp: 5,
		Signature: sig.Hex(),
	})
	expectCode(t, res, codeUnauthorized)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("expected HTTP 401, got %d", res.status)
	}

	expectCode(t, env.call(t, "", "evolution_register", registerParams{
		User:      common.HexToAddress("0x00000000000000000000000000000000000000c1").Hex(),
		Timestamp: 5,
		Signature: "0xdeadbeef",
	}), codeInvalidParams)
}

func TestAdminMethodsRequireOwnerToken(t *testing.T) {
	env := newTestEnv(t, nil)
	newApprover := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	params := setApproverParams{Approver: newApprover.Hex()}

	res := env.call(t, "", "evolution_setApprover", params)
	expectCode(t, res, codeUnauthorized)
	if res.status != http.StatusUnauthorized {
		t.Fatalf("expected HTTP 401, got %d", res.status)
	}
	expectCode(t, env.call(t, "not-a-jwt", "evolution_setApprover", params), codeUnauthorized)

	wrongIssuer, err := IssueAdminToken(testJWTSecret, "someone-else", env.owner, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expectCode(t, env.call(t, wrongIssuer, "evolution_setApprover", params), codeUnauthorized)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000d2")
	expectCode(t, env.call(t, env.token(t, stranger), "evolution_setApprover", params), codeUnauthorized)

	var ok okResult
	expectOK(t, env.call(t, env.token(t, env.owner), "evolution_setApprover", params), &ok)
	if !ok.OK {
		t.Fatalf("expected ok result")
	}
	var approverHex string
	expectOK(t, env.call(t, "", "evolution_getApprover", nil), &approverHex)
	if approverHex != newApprover.Hex() {
		t.Fatalf("approver not rotated: %s", approverHex)
	}
}

func TestAdminTablesAndRewards(t *testing.T) {
	env := newTestEnv(t, nil)
	ownerToken := env.token(t, env.owner)
	user := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	expectOK(t, env.call(t, "", "evolution_register", env.registerParams(t, user, common.Address{}, 1)), nil)

	expectCode(t, env.call(t, ownerToken, "evolution_setRewardPercentages", setRewardPercentagesParams{Percentages: []uint64{1, 2}}), codeInvalidParams)
	expectOK(t, env.call(t, ownerToken, "evolution_setRewardPercentages", setRewardPercentagesParams{
		Percentages: []uint64{100, 200, 300, 400, 500},
	}), nil)
	var preview string
	expectOK(t, env.call(t, "", "evolution_previewReward", previewRewardParams{Level: 0, Base: "10000"}), &preview)
	if preview != "100" {
		t.Fatalf("unexpected preview %s", preview)
	}

	expectOK(t, env.call(t, ownerToken, "evolution_setCriteria", setCriteriaParams{
		Levels:   []uint8{0},
		Criteria: []criterionJSON{{MinReferrals: 0, MinVerifiedReferrals: 0, MinAmount: "50"}},
	}), nil)
	var criteria []CriterionResult
	expectOK(t, env.call(t, "", "evolution_getCriteria", nil), &criteria)
	if len(criteria) != 4 || !criteria[0].Configured || criteria[1].Configured || criteria[0].MinAmount != "50" {
		t.Fatalf("unexpected criteria %+v", criteria)
	}

	expectCode(t, env.call(t, "", "evolution_promote", userParams{User: user.Hex()}), codeIneligible)

	var paid PayRewardResult
	expectOK(t, env.call(t, ownerToken, "evolution_payReward", payRewardParams{User: user.Hex(), Base: "5000"}), &paid)
	if paid.Reward != "50" || paid.RewardPool != "999999950" {
		t.Fatalf("unexpected payout %+v", paid)
	}
	var promoted UserResult
	expectOK(t, env.call(t, "", "evolution_promote", userParams{User: user.Hex()}), &promoted)
	if promoted.Level != 1 || promoted.TotalEarned != "50" || promoted.Balance != "50" {
		t.Fatalf("unexpected promotion %+v", promoted)
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 256).String()
	expectCode(t, env.call(t, ownerToken, "evolution_payReward", payRewardParams{User: user.Hex(), Base: huge}), codeArithmetic)

	expectOK(t, env.call(t, ownerToken, "evolution_setWhitelistBatch", setWhitelistBatchParams{
		Addresses: []string{user.Hex()},
		Flags:     []bool{true},
	}), nil)
	var whitelisted bool
	expectOK(t, env.call(t, "", "evolution_isWhitelisted", userParams{User: user.Hex()}), &whitelisted)
	if !whitelisted {
		t.Fatalf("expected whitelisted")
	}
	expectCode(t, env.call(t, ownerToken, "evolution_setWhitelistBatch", setWhitelistBatchParams{
		Addresses: []string{user.Hex()},
	}), codeInvalidParams)

	var params ParamsResult
	expectOK(t, env.call(t, "", "evolution_getParams", nil), &params)
	if params.Owner != env.owner.Hex() || params.RewardPercentages[4] != 500 {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestRequestErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.post(t, "", []byte("{not json")), codeParseError)
	expectCode(t, env.post(t, "", []byte(`{"jsonrpc":"1.0","method":"evolution_getApprover","id":1}`)), codeInvalidRequest)
	expectCode(t, env.call(t, "", "evolution_unknown", nil), codeMethodNotFound)
	expectCode(t, env.call(t, "", "evolution_getUser", nil), codeInvalidParams)
	expectCode(t, env.call(t, "", "evolution_getUser", userParams{User: "0x1234"}), codeInvalidParams)
}

func TestRegisterRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServerConfig) {
		cfg.RegisterRate = 0.001
		cfg.RegisterBurst = 1
	})
	first := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	second := common.HexToAddress("0x00000000000000000000000000000000000000f2")
	expectOK(t, env.call(t, "", "evolution_register", env.registerParams(t, first, common.Address{}, 1)), nil)
	res := env.call(t, "", "evolution_register", env.registerParams(t, second, common.Address{}, 2))
	expectCode(t, res, codeRateLimited)
	if res.status != http.StatusTooManyRequests {
		t.Fatalf("expected HTTP 429, got %d", res.status)
	}
	// Queries are not throttled.
	expectOK(t, env.call(t, "", "evolution_getApprover", nil), nil)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status %d", resp.StatusCode)
	}

	expectOK(t, env.call(t, "", "evolution_getApprover", nil), nil)
	resp, err = env.http.Client().Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "evl_rpc_requests_total") {
		t.Fatalf("rpc metrics not exported")
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	user := common.HexToAddress("0x00000000000000000000000000000000000000a7")
	expectOK(t, env.call(t, "", "evolution_register", env.registerParams(t, user, common.Address{}, 9)), nil)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var update core.EventUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.Event.Type != events.TypeEvolutionRegistered || update.Event.Attributes["user"] != user.Hex() {
		t.Fatalf("unexpected update %+v", update)
	}

	// A reconnect from the beginning replays the retained history.
	replay, _, err := websocket.Dial(ctx, wsURL+"?cursor=0", nil)
	if err != nil {
		t.Fatalf("dial replay: %v", err)
	}
	defer replay.Close(websocket.StatusNormalClosure, "done")
	_, data, err = replay.Read(ctx)
	if err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if update.Sequence != 1 {
		t.Fatalf("expected replay of sequence 1, got %d", update.Sequence)
	}
}
