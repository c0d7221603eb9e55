// Package httpapi exposes the thin JSON surface over the auth core: the JWKS
// document, credential and token endpoints, session introspection, and the
// read-only audit query interface.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	auditrepo "auth-session-core/backend/internal/audit/repository"
	"auth-session-core/backend/internal/auth"
	"auth-session-core/backend/internal/keyring"
	"auth-session-core/backend/internal/token"
)

// Server holds the handler dependencies.
type Server struct {
	ring  *keyring.Ring
	auth  *auth.Service
	authz *auth.Authorizer
	audit auditrepo.Repository
}

// NewServer returns the HTTP surface over the given components.
func NewServer(ring *keyring.Ring, authSvc *auth.Service, authz *auth.Authorizer, audit auditrepo.Repository) *Server {
	return &Server{ring: ring, auth: authSvc, authz: authz, audit: audit}
}

// Routes builds the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /v1/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /v1/authz/decide", s.handleDecide)
	mux.HandleFunc("GET /v1/users/{id}/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleTerminateSession)
	mux.HandleFunc("GET /v1/audit", s.handleAuditQuery)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ring.PublicSet())
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.ID})
}

type loginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type pairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	StepUpRequired   bool      `json:"step_up_required,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password, deviceFrom(r, req.DeviceFingerprint))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPairResponse(res))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.auth.Refresh(r.Context(), req.RefreshToken, deviceFrom(r, ""))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPairResponse(res))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.auth.Logout(r.Context(), req.RefreshToken, deviceFrom(r, "")); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decideRequest struct {
	AccessToken string                 `json:"access_token"`
	Resource    string                 `json:"resource"`
	Action      string                 `json:"action"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

type decideResponse struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	PolicyID string `json:"policy_id,omitempty"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "resource and action are required")
		return
	}
	dec, err := s.authz.Authorize(r.Context(), req.AccessToken, req.Resource, req.Action, req.Context)
	switch {
	case err == nil,
		errors.Is(err, auth.ErrPermissionDenied),
		errors.Is(err, auth.ErrInsufficientSecurityLevel),
		errors.Is(err, auth.ErrPolicyEvaluation):
		// Policy outcomes are reported in the decision body, not the status.
		writeJSON(w, http.StatusOK, decideResponse{Allowed: dec.Allowed, Reason: dec.Reason, PolicyID: dec.PolicyID})
	default:
		s.writeAuthError(w, err)
	}
}

type sessionResponse struct {
	ID             string    `json:"id"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RiskScore      int       `json:"risk_score"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.auth.ListSessions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			ID:             sess.ID,
			IPAddress:      sess.IPAddress,
			UserAgent:      sess.UserAgent,
			RiskScore:      sess.RiskScore,
			LastActivityAt: sess.LastActivityAt,
			ExpiresAt:      sess.ExpiresAt,
			CreatedAt:      sess.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.TerminateSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuditQuery serves read-only audit lookups filtered by user, event
// type, or created-at range. Exactly one filter applies, checked in that
// order.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 50)
	offset := parseIntDefault(q.Get("offset"), 0)

	switch {
	case q.Get("user") != "":
		events, err := s.audit.ListByUser(r.Context(), q.Get("user"), int32(limit), int32(offset))
		s.writeAuditList(w, events, err)
	case q.Get("type") != "":
		events, err := s.audit.ListByType(r.Context(), q.Get("type"), int32(limit), int32(offset))
		s.writeAuditList(w, events, err)
	case q.Get("from") != "" && q.Get("to") != "":
		from, err1 := time.Parse(time.RFC3339, q.Get("from"))
		to, err2 := time.Parse(time.RFC3339, q.Get("to"))
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "from/to must be RFC3339 timestamps")
			return
		}
		events, err := s.audit.ListByTimeRange(r.Context(), from, to)
		s.writeAuditList(w, events, err)
	default:
		writeError(w, http.StatusBadRequest, "one of user, type, or from+to is required")
	}
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, token.ErrTokenMalformed),
		errors.Is(err, token.ErrSignatureInvalid),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrWrongTokenType),
		errors.Is(err, token.ErrUnknownSigningKey):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrSessionRevoked):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrSecurityViolation),
		errors.Is(err, auth.ErrLoginBlocked),
		errors.Is(err, auth.ErrPermissionDenied),
		errors.Is(err, auth.ErrInsufficientSecurityLevel):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeAuditList(w http.ResponseWriter, events interface{}, err error) {
	if err != nil {
		log.Printf("httpapi: audit query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func toPairResponse(res *auth.Result) pairResponse {
	return pairResponse{
		AccessToken:      res.Pair.AccessToken,
		RefreshToken:     res.Pair.RefreshToken,
		AccessExpiresAt:  res.Pair.AccessExpiresAt,
		RefreshExpiresAt: res.Pair.RefreshExpiresAt,
		SessionID:        res.Session.ID,
		StepUpRequired:   res.StepUpRequired,
	}
}

func deviceFrom(r *http.Request, fingerprint string) auth.Device {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	if fingerprint == "" {
		fingerprint = r.Header.Get("X-Device-Fingerprint")
	}
	return auth.Device{IP: ip, UserAgent: r.UserAgent(), Fingerprint: fingerprint}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encoding response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
