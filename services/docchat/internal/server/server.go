package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docchat/internal/ratelimit"
	"docchat/internal/util"
	"docchat/pkg/domain"
	"docchat/pkg/policy"
	"docchat/services/docchat/internal/app"
)

const (
	sessionCookieName = "token"
	maxJSONBodyBytes  = 1 << 20
	multipartMemory   = 32 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	CookieSecure   bool
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64

	// Optional; nil disables the limit.
	SignupLimiter *ratelimit.FixedWindowLimiter
	LoginLimiter  *ratelimit.FixedWindowLimiter
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	cookieSecure   bool
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		cookieSecure:   cfg.CookieSecure,
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		signupLimiter:  cfg.SignupLimiter,
		loginLimiter:   cfg.LoginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("docchat",
			util.WithSecurityHeaders(s.trustedProxies,
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.Handle("GET /api/auth/me", s.withSession(s.handleMe))

	// documents & chat (owner-scoped)
	s.mux.Handle("GET /api/sessions", s.withSession(s.handleListSessions))
	s.mux.Handle("GET /api/sessions/{id}", s.withSession(s.handleGetSession))
	s.mux.Handle("DELETE /api/sessions/{id}", s.withSession(s.handleDeleteSession))
	s.mux.Handle("POST /api/upload", s.withSession(s.handleUpload))
	s.mux.Handle("POST /api/chat", s.withSession(s.handleChat))

	// admin
	s.mux.Handle("GET /api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("GET /api/admin/users/{id}/docs", s.adminOnly(s.handleAdminUserDocs))
	s.mux.Handle("DELETE /api/admin/users/{id}", s.adminOnly(s.handleAdminDeleteUser))
	s.mux.Handle("DELETE /api/admin/documents/{id}", s.adminOnly(s.handleAdminDeleteDocument))
	s.mux.Handle("POST /api/admin/register-admin", s.adminOnly(s.handleRegisterAdmin))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionHandler func(http.ResponseWriter, *http.Request, policy.Actor)

func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.app.Authenticate(sessionToken(r))
		if err != nil {
			if errors.Is(err, app.ErrUnauthenticated) {
				s.audit(r, "session.verify", "fail")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			s.writeAppError(w, r, err)
			return
		}
		actor := policy.ActorFromSession(sess)
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", actor.UserID))
		r = r.WithContext(ctx)
		s.audit(r, "session.verify", "success")
		next(w, r, actor)
	})
}

func (s *Server) adminOnly(next sessionHandler) http.Handler {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
		if actor.Role != domain.RoleAdmin {
			s.audit(r, "admin.authorize", "fail", "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "admin.authorize", "success")
		next(w, r, actor)
	})
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, meResponse{Email: user.Email, Role: user.Role})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Logout(sessionToken(r)); err != nil {
		util.LoggerFromContext(r.Context()).Warn("session revoke failed", "err", err)
	}
	s.clearSessionCookie(w)
	s.audit(r, "auth.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, actor policy.Actor) {
	writeJSON(w, http.StatusOK, meResponse{Email: actor.Email, Role: actor.Role})
}

// /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	docs, err := s.app.ListDocuments(actor)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	items := make([]sessionItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, sessionItem{ID: d.ID, Title: d.Title, CreatedAt: d.CreatedAt})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	view, err := s.app.GetDocument(actor, r.PathValue("id"))
	if err != nil {
		s.audit(r, "document.read", "fail", "document_id", r.PathValue("id"))
		s.writeAppError(w, r, err)
		return
	}
	history := view.Messages
	if history == nil {
		history = []domain.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, sessionDetail{
		ID:          view.Document.ID,
		Title:       view.Document.Title,
		Summary:     view.Document.Summary,
		Topics:      view.Document.Topics,
		CreatedAt:   view.Document.CreatedAt,
		ChatHistory: history,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	id := r.PathValue("id")
	if err := s.app.DeleteDocument(r.Context(), actor, id); err != nil {
		s.audit(r, "document.delete", "fail", "document_id", id)
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "document.delete", "success", "document_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: pdf)")
		return
	}
	defer file.Close()

	doc, err := s.app.UploadDocument(r.Context(), actor, app.UploadInput{
		Title:            r.FormValue("title"),
		OriginalFilename: header.Filename,
		Body:             file,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Summary:    doc.Summary,
		Topics:     doc.Topics,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}
	answer, err := s.app.AppendChatTurn(r.Context(), actor, req.DocumentID, req.Query)
	if err != nil {
		if errors.Is(err, app.ErrForbidden) {
			s.audit(r, "chat.post", "fail", "document_id", req.DocumentID)
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	users, err := s.app.ListUsers(actor, r.URL.Query().Get("search"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if users == nil {
		users = []domain.UserSummary{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminUserDocs(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	docs, err := s.app.ListUserDocuments(actor, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	items := make([]userDocumentItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, userDocumentItem{
			ID:               d.ID,
			Title:            d.Title,
			OriginalFilename: d.OriginalFilename,
			CreatedAt:        d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	id := r.PathValue("id")
	if err := s.app.DeleteUser(r.Context(), actor, id); err != nil {
		s.audit(r, "admin.user.delete", "fail", "target_user_id", id, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.user.delete", "success", "target_user_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAdminDeleteDocument(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	id := r.PathValue("id")
	if err := s.app.DeleteDocument(r.Context(), actor, id); err != nil {
		s.audit(r, "admin.document.delete", "fail", "document_id", id)
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.document.delete", "success", "document_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRegisterAdmin(w http.ResponseWriter, r *http.Request, actor policy.Actor) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.ProvisionAdmin(actor, req.Email, req.Password)
	if err != nil {
		s.audit(r, "admin.provision", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.provision", "success", "target_user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	ttl := s.app.SessionTTL()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionToken reads the session cookie, falling back to a bearer token for
// non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors to HTTP responses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), app.ErrInvalidInput.Error()+": "))
	case errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAnalysisFailed):
		writeError(w, http.StatusInternalServerError, app.ErrAnalysisFailed.Error())
	case errors.Is(err, app.ErrCompletionFailed):
		writeError(w, http.StatusInternalServerError, app.ErrCompletionFailed.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	res := limiter.Allow(r.Context(), key)
	if res.Allowed {
		return true
	}
	w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type chatRequest struct {
	DocumentID string `json:"documentId"`
	Query      string `json:"query"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

type meResponse struct {
	Email string          `json:"email"`
	Role  domain.UserRole `json:"role"`
}

type uploadResponse struct {
	DocumentID string         `json:"documentId"`
	Title      string         `json:"title"`
	Summary    string         `json:"summary"`
	Topics     []domain.Topic `json:"topics"`
}

type sessionItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionDetail struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Summary     string               `json:"summary"`
	Topics      []domain.Topic       `json:"topics"`
	CreatedAt   time.Time            `json:"createdAt"`
	ChatHistory []domain.ChatMessage `json:"chatHistory"`
}

type userDocumentItem struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	OriginalFilename string    `json:"originalFilename"`
	CreatedAt        time.Time `json:"createdAt"`
}
