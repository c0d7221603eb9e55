package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auditchain "auth-session-core/backend/internal/audit"
	auditrepo "auth-session-core/backend/internal/audit/repository"
	"auth-session-core/backend/internal/auth"
	"auth-session-core/backend/internal/keyring"
	policydomain "auth-session-core/backend/internal/policy/domain"
	"auth-session-core/backend/internal/policy/engine"
	policyrepo "auth-session-core/backend/internal/policy/repository"
	"auth-session-core/backend/internal/risk"
	"auth-session-core/backend/internal/security"
	sessionrepo "auth-session-core/backend/internal/session/repository"
	"auth-session-core/backend/internal/token"
	userrepo "auth-session-core/backend/internal/user/repository"
)

const testPassword = "Str0ng-Passw0rd!"

func newTestServer(t *testing.T) *http.ServeMux {
	t.Helper()
	ring, err := keyring.NewRing(context.Background(), "ES256", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	tokens := token.NewService(ring, "auth-core", "auth-core-clients", 15*time.Minute, 7*24*time.Hour, time.Minute)
	aRepo := auditrepo.NewMemoryRepository()
	chain, err := auditchain.NewChain(context.Background(), aRepo, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	riskEngine := risk.NewEngine(nil, risk.DefaultWeights(), nil)
	svc := auth.NewService(userrepo.NewMemoryRepository(), sessionrepo.NewMemoryRepository(),
		tokens, security.NewHasher(4), riskEngine, nil, chain, 80, 50, 7*24*time.Hour)
	policies := policyrepo.NewMemoryRepository()
	if err := policies.Create(context.Background(), &policydomain.Policy{
		Resource:              "documents",
		Action:                "read",
		RequiredSecurityLevel: 1,
		Enabled:               true,
	}); err != nil {
		t.Fatalf("seed policy: %v", err)
	}
	authz := auth.NewAuthorizer(svc, engine.NewPDP(policies, time.Minute))
	return NewServer(ring, svc, authz, aRepo).Routes()
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("User-Agent", "test/1.0")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, mux *http.ServeMux) pairResponse {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@example.com", Password: testPassword, Name: "A"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, mux, http.MethodPost, "/v1/auth/login",
		loginRequest{Email: "a@example.com", Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	var pair pairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return pair
}

func TestHealthz(t *testing.T) {
	mux := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestJWKS(t *testing.T) {
	mux := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/.well-known/jwks.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("jwks keys = %d, want 1", len(doc.Keys))
	}
	if doc.Keys[0]["kid"] == "" || doc.Keys[0]["kty"] != "EC" {
		t.Errorf("unexpected jwk: %v", doc.Keys[0])
	}
	if _, leaked := doc.Keys[0]["d"]; leaked {
		t.Error("jwks must never carry private material")
	}
}

func TestLoginRefreshFlow(t *testing.T) {
	mux := newTestServer(t)
	pair := registerAndLogin(t, mux)
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
		t.Fatalf("incomplete pair response: %+v", pair)
	}

	rec := doJSON(t, mux, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body)
	}

	// Replaying the consumed token is a 403, not a 401.
	rec = doJSON(t, mux, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("replay status = %d, want 403", rec.Code)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	mux := newTestServer(t)
	rec := doJSON(t, mux, http.MethodPost, "/v1/auth/login",
		loginRequest{Email: "nobody@example.com", Password: "Wrong-Passw0rd!"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSessionIntrospection(t *testing.T) {
	mux := newTestServer(t)
	pair := registerAndLogin(t, mux)

	// Recover the user id from the audit trail rather than parsing the token.
	var userID string
	{
		rec := doJSON(t, mux, http.MethodGet, "/v1/audit?type=login_success", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("audit query status = %d", rec.Code)
		}
		var body struct {
			Events []struct {
				UserID string `json:"UserID"`
			} `json:"events"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode audit response: %v", err)
		}
		if len(body.Events) != 1 {
			t.Fatalf("audit events = %d, want 1", len(body.Events))
		}
		userID = body.Events[0].UserID
	}

	rec := doJSON(t, mux, http.MethodGet, "/v1/users/"+userID+"/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions status = %d", rec.Code)
	}
	var listing struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(listing.Sessions) != 1 || listing.Sessions[0].ID != pair.SessionID {
		t.Fatalf("sessions = %+v, want the login session", listing.Sessions)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/v1/sessions/"+pair.SessionID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("terminate status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodDelete, "/v1/sessions/"+pair.SessionID, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("second terminate status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodDelete, "/v1/sessions/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing terminate status = %d, want 404", rec.Code)
	}
}

func TestAuditQuery_RequiresFilter(t *testing.T) {
	mux := newTestServer(t)
	rec := doJSON(t, mux, http.MethodGet, "/v1/audit", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/v1/audit?from=bogus&to=alsobogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad range status = %d, want 400", rec.Code)
	}
}

func TestDecide(t *testing.T) {
	mux := newTestServer(t)
	pair := registerAndLogin(t, mux)

	rec := doJSON(t, mux, http.MethodPost, "/v1/authz/decide",
		decideRequest{AccessToken: pair.AccessToken, Resource: "documents", Action: "read"})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d: %s", rec.Code, rec.Body)
	}
	var dec decideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &dec); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if !dec.Allowed || dec.PolicyID == "" {
		t.Fatalf("decision = %+v, want allowed with policy id", dec)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/authz/decide",
		decideRequest{AccessToken: pair.AccessToken, Resource: "admin", Action: "delete"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deny status = %d: %s", rec.Code, rec.Body)
	}
	dec = decideResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &dec); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if dec.Allowed || dec.Reason != "no_matching_policy" {
		t.Fatalf("decision = %+v, want deny with no_matching_policy", dec)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/authz/decide",
		decideRequest{AccessToken: "not-a-token", Resource: "documents", Action: "read"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/authz/decide",
		decideRequest{AccessToken: pair.AccessToken})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields status = %d, want 400", rec.Code)
	}
}
