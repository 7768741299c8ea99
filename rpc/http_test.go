package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"comclear/core"
	"comclear/storage"
)

func testAddress(b byte) string {
	var addr [20]byte
	addr[19] = b
	return "0x" + hex.EncodeToString(addr[:])
}

type testServer struct {
	server *Server
	node   *core.Node
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	node := core.NewNode(storage.NewMemDB(), core.NodeConfig{InitialReputation: 50})
	t.Cleanup(func() { _ = node.Close() })
	return &testServer{server: NewServer(node), node: node}
}

func (ts *testServer) call(t *testing.T, method string, params ...interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	return ts.callWithToken(t, "", method, params...)
}

func (ts *testServer) callWithToken(t *testing.T, token, method string, params ...interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		encoded, err := json.Marshal(param)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec, resp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	out, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T, want object", resp.Result)
	}
	return out
}

func TestRegisterAndQueryFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := testAddress(1)

	rec, resp := ts.call(t, "clear_register", map[string]string{"address": alice})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d", rec.Code)
	}
	if got := resultMap(t, resp)["registered"]; got != true {
		t.Fatalf("registered = %v", got)
	}

	rec, resp = ts.call(t, "clear_register", map[string]string{"address": alice})
	if rec.Code != http.StatusConflict || resp.Error == nil {
		t.Fatalf("duplicate register: status=%d err=%+v", rec.Code, resp.Error)
	}

	_, resp = ts.call(t, "clear_isRegistered", map[string]string{"address": alice})
	if got := resultMap(t, resp)["registered"]; got != true {
		t.Fatalf("isRegistered = %v", got)
	}

	_, resp = ts.call(t, "clear_getReputation", map[string]string{"address": alice})
	if got := resultMap(t, resp)["reputation"]; got != float64(50) {
		t.Fatalf("reputation = %v, want 50", got)
	}

	rec, resp = ts.call(t, "clear_getReputation", map[string]string{"address": testAddress(9)})
	if rec.Code != http.StatusNotFound || resp.Error == nil {
		t.Fatalf("unknown reputation: status=%d err=%+v", rec.Code, resp.Error)
	}
}

func TestRequestLifecycleOverRPC(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().Unix()
	alice, bob := testAddress(1), testAddress(2)

	for _, addr := range []string{alice, bob} {
		if _, resp := ts.call(t, "clear_register", map[string]string{"address": addr}); resp.Error != nil {
			t.Fatalf("register: %+v", resp.Error)
		}
		if _, resp := ts.call(t, "clear_mint", map[string]string{"address": addr, "amount": "1000"}); resp.Error != nil {
			t.Fatalf("mint: %+v", resp.Error)
		}
	}

	_, resp := ts.call(t, "clear_createRequest", map[string]interface{}{
		"creator":            alice,
		"commodity":          "WTI",
		"quantity":           "2",
		"referencePrice":     "50",
		"mode":               "fixed",
		"collateralPerParty": "100",
		"maturity":           now + 3600,
		"acceptDeadline":     now + 1800,
	})
	request, ok := resultMap(t, resp)["request"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing request payload: %v", resp.Result)
	}
	requestID := request["id"].(float64)

	_, resp = ts.call(t, "clear_listOpenRequests")
	open, ok := resp.Result.([]interface{})
	if !ok || len(open) != 1 {
		t.Fatalf("open requests = %v", resp.Result)
	}

	if _, resp = ts.call(t, "clear_acceptRequest", map[string]interface{}{
		"requestId": requestID,
		"responder": bob,
	}); resp.Error != nil {
		t.Fatalf("accept: %+v", resp.Error)
	}

	rec, resp := ts.call(t, "clear_acceptRequest", map[string]interface{}{
		"requestId": requestID,
		"responder": bob,
	})
	if rec.Code != http.StatusConflict || resp.Error == nil {
		t.Fatalf("duplicate accept: status=%d err=%+v", rec.Code, resp.Error)
	}

	_, resp = ts.call(t, "clear_selectAcceptor", map[string]interface{}{
		"requestId":       requestID,
		"caller":          alice,
		"acceptor":        bob,
		"settlementTimes": []int64{now + 2000, now + 3000},
	})
	created, ok := resultMap(t, resp)["swap"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing swap payload: %v", resp.Result)
	}

	_, resp = ts.call(t, "clear_getSwap", map[string]interface{}{"swapId": created["id"]})
	if resp.Error != nil {
		t.Fatalf("getSwap: %+v", resp.Error)
	}

	// Escrowed collateral left both spendable balances.
	_, resp = ts.call(t, "clear_getBalance", map[string]string{"address": alice})
	if got := resultMap(t, resp)["balance"]; got != "900" {
		t.Fatalf("creator balance = %v, want 900", got)
	}
}

func TestMintRequiresBearerToken(t *testing.T) {
	t.Setenv("COMCLEAR_RPC_TOKEN", "secret-token")
	ts := newTestServer(t)
	alice := testAddress(1)

	rec, resp := ts.call(t, "clear_mint", map[string]string{"address": alice, "amount": "100"})
	if rec.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("unauthenticated mint: status=%d err=%+v", rec.Code, resp.Error)
	}

	rec, resp = ts.callWithToken(t, "wrong-token", "clear_mint", map[string]string{"address": alice, "amount": "100"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token mint status = %d", rec.Code)
	}

	_, resp = ts.callWithToken(t, "secret-token", "clear_mint", map[string]string{"address": alice, "amount": "100"})
	if got := resultMap(t, resp)["minted"]; got != "100" {
		t.Fatalf("minted = %v", got)
	}

	_, resp = ts.call(t, "clear_getBalance", map[string]string{"address": alice})
	if got := resultMap(t, resp)["balance"]; got != "100" {
		t.Fatalf("balance = %v, want 100", got)
	}
}

func TestOracleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	_, resp := ts.call(t, "oracle_postPrice", map[string]interface{}{
		"handle":    "WTI",
		"price":     "75",
		"updatedAt": time.Now().Unix(),
	})
	if resp.Error != nil {
		t.Fatalf("postPrice: %+v", resp.Error)
	}

	_, resp = ts.call(t, "oracle_getQuote", map[string]string{"handle": "WTI"})
	quote := resultMap(t, resp)
	if quote["price"] != "75" {
		t.Fatalf("quote = %v", quote)
	}

	rec, resp := ts.call(t, "oracle_getQuote", map[string]string{"handle": "BRENT"})
	if rec.Code != http.StatusNotFound || resp.Error == nil {
		t.Fatalf("unknown handle: status=%d err=%+v", rec.Code, resp.Error)
	}
}

func TestMalformedRequests(t *testing.T) {
	ts := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := post(""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rec.Code)
	}
	if rec := post("{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", rec.Code)
	}
	if rec := post(`{"jsonrpc":"1.0","method":"clear_register","id":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad version status = %d", rec.Code)
	}
	if rec := post(`{"jsonrpc":"2.0","id":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing method status = %d", rec.Code)
	}
	if rec := post(`{"jsonrpc":"2.0","method":"clear_nope","id":1}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown method status = %d", rec.Code)
	}
	if rec, _ := ts.call(t, "clear_register", map[string]string{"address": "0x1234"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("short address status = %d", rec.Code)
	}
}
