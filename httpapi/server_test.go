package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thinksystem/sleet/bytecode"
	"github.com/thinksystem/sleet/config"
	"github.com/thinksystem/sleet/orchestrator"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	coord := orchestrator.New(orchestrator.Config{}, bytecode.NewRegistry(), nil, nil)
	t.Cleanup(coord.Stop)
	return New(cfg, coord, bytecode.NewRegistry(), nil)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// TestTranspileThenStartCompletesArithmeticFlow exercises spec §8's S1
// end-to-end through the HTTP surface rather than the Coordinator
// directly: POST /v1/flows then POST /v1/sessions.
func TestTranspileThenStartCompletesArithmeticFlow(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	flowDef := map[string]any{
		"name":           "arith",
		"start_block_id": "compute",
		"blocks": []map[string]any{
			{"id": "compute", "kind": "Compute", "expression": "(15 + 8) > 20", "output_key": "result", "next": "done"},
			{"id": "done", "kind": "Terminate"},
		},
	}
	rec := doJSON(t, r, http.MethodPost, "/v1/flows", flowDef)
	if rec.Code != http.StatusCreated {
		t.Fatalf("transpile: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tr transpileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode transpile response: %v", err)
	}
	if tr.ContractID != "arith" || tr.Revision != 1 {
		t.Fatalf("unexpected transpile response: %+v", tr)
	}

	startReq := map[string]any{"contract_id": "arith", "tenant": "tenant-a"}
	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", startReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	if sess.Status != "Completed" {
		t.Fatalf("expected Completed, got %+v", sess)
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/sessions/"+sess.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestStartUnknownContractReturns404 checks the error envelope for a
// session start against a contract id that was never transpiled.
func TestStartUnknownContractReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodPost, "/v1/sessions", map[string]any{"contract_id": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestAwaitInputResumeRoundTrip exercises spec §8's S2 through the HTTP
// surface: suspend on AwaitInput, then resume with a value.
func TestAwaitInputResumeRoundTrip(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()

	flowDef := map[string]any{
		"name":           "ask",
		"start_block_id": "ask",
		"blocks": []map[string]any{
			{"id": "ask", "kind": "AwaitInput", "interaction_id": "q1", "agent_id": "agent-1", "prompt": `"what is your name?"`, "state_key": "name", "next": "done"},
			{"id": "done", "kind": "Terminate"},
		},
	}
	rec := doJSON(t, r, http.MethodPost, "/v1/flows", flowDef)
	if rec.Code != http.StatusCreated {
		t.Fatalf("transpile failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", map[string]any{"contract_id": "ask"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start failed: %d %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.Status != "Suspended" || sess.Awaiting == nil || sess.Awaiting.InteractionID != "q1" {
		t.Fatalf("expected Suspended awaiting q1, got %+v", sess)
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/resume", map[string]any{"value": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resume failed: %d %s", rec.Code, rec.Body.String())
	}
	var resumed sessionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resumed)
	if resumed.Status != "Completed" {
		t.Fatalf("expected Completed after resume, got %+v", resumed)
	}
}
