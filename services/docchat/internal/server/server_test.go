package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/publicsuffix"

	"docchat/internal/analysis"
	"docchat/internal/ratelimit"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/services/docchat/internal/app"
)

const rootEmail = "admin@test.com"

type stubAnalyzer struct {
	err error
}

func (s *stubAnalyzer) Analyze(context.Context, string) (analysis.Result, error) {
	if s.err != nil {
		return analysis.Result{}, s.err
	}
	return analysis.Result{
		FullText: "The city grew along the river.",
		Summary:  "S",
		Topics:   []domain.Topic{{Emoji: "🏙️", Title: "T", Description: "d"}},
	}, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, req ai.CompletionRequest) (string, error) {
	last := req.Messages[len(req.Messages)-1]
	return "echo: " + last.Content, nil
}

type testEnv struct {
	srv      *httptest.Server
	store    *store.MemoryStore
	analyzer *stubAnalyzer
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("server-test-secret-server-test-secret", 0, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	analyzer := &stubAnalyzer{}
	core, err := app.New(app.Config{
		RootAdminEmail:    rootEmail,
		RootAdminPassword: "!admin123",
		Store:             mem,
		Sessions:          sessions,
		Files:             files,
		Analyzer:          analyzer,
		Completer:         stubCompleter{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := core.SeedRootAdmin(); err != nil {
		t.Fatalf("seed root admin: %v", err)
	}
	cfg := Config{App: core}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: mem, analyzer: analyzer}
}

func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, c *http.Client, method, url string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func (e *testEnv) login(t *testing.T, c *http.Client, email, password string) {
	t.Helper()
	resp := doJSON(t, c, http.MethodPost, e.srv.URL+"/api/auth/login", map[string]string{"email": email, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
}

func (e *testEnv) registerAndLogin(t *testing.T, email string) *http.Client {
	t.Helper()
	c := e.client(t)
	resp := doJSON(t, c, http.MethodPost, e.srv.URL+"/api/auth/register", map[string]string{"email": email, "password": "password1"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	e.login(t, c, email, "password1")
	return c
}

func upload(t *testing.T, c *http.Client, url, filename, title string) (*http.Response, uploadResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatalf("write title: %v", err)
		}
	}
	part, err := mw.CreateFormFile("pdf", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("%PDF-1.4 fake")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/api/upload", &buf)
	if err != nil {
		t.Fatalf("new upload request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var out uploadResponse
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode upload: %v", err)
		}
	}
	return resp, out
}

func TestUserScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	var registered domain.User
	resp := doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]string{"email": "a@x.com", "password": "password1"}, &registered)
	if resp.StatusCode != http.StatusCreated || registered.Role != domain.RoleUser {
		t.Fatalf("register: status %d user %+v", resp.StatusCode, registered)
	}

	var me meResponse
	resp = doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{"email": "a@x.com", "password": "password1"}, &me)
	if resp.StatusCode != http.StatusOK || me.Email != "a@x.com" || me.Role != domain.RoleUser {
		t.Fatalf("login: status %d body %+v", resp.StatusCode, me)
	}
	setCookie := resp.Header.Get("Set-Cookie")
	for _, want := range []string{"token=", "HttpOnly", "SameSite=Lax", "Max-Age=7200"} {
		if !strings.Contains(setCookie, want) {
			t.Fatalf("session cookie %q missing %q", setCookie, want)
		}
	}

	resp, up := upload(t, c, env.srv.URL, "city.pdf", "My City")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	if up.DocumentID == "" || up.Title != "My City" || up.Summary != "S" || len(up.Topics) != 1 || up.Topics[0].Emoji != "🏙️" {
		t.Fatalf("unexpected upload response: %+v", up)
	}

	var list []sessionItem
	resp = doJSON(t, c, http.MethodGet, env.srv.URL+"/api/sessions", nil, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 1 || list[0].Title != "My City" || list[0].ID != up.DocumentID {
		t.Fatalf("list sessions: status %d body %+v", resp.StatusCode, list)
	}

	var detail sessionDetail
	resp = doJSON(t, c, http.MethodGet, env.srv.URL+"/api/sessions/"+up.DocumentID, nil, &detail)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: status %d", resp.StatusCode)
	}
	if detail.Summary != "S" || len(detail.Topics) != 1 || detail.Topics[0].Title != "T" || detail.ChatHistory == nil || len(detail.ChatHistory) != 0 {
		t.Fatalf("unexpected session detail: %+v", detail)
	}

	var answer chatResponse
	resp = doJSON(t, c, http.MethodPost, env.srv.URL+"/api/chat", map[string]string{"documentId": up.DocumentID, "query": "hi"}, &answer)
	if resp.StatusCode != http.StatusOK || answer.Answer != "echo: hi" {
		t.Fatalf("chat: status %d body %+v", resp.StatusCode, answer)
	}

	detail = sessionDetail{}
	doJSON(t, c, http.MethodGet, env.srv.URL+"/api/sessions/"+up.DocumentID, nil, &detail)
	if len(detail.ChatHistory) != 2 {
		t.Fatalf("expected 2 chat messages, got %d", len(detail.ChatHistory))
	}
	if detail.ChatHistory[0].Role != domain.MessageRoleUser || detail.ChatHistory[0].Content != "hi" {
		t.Fatalf("unexpected user turn: %+v", detail.ChatHistory[0])
	}
	if detail.ChatHistory[1].Role != domain.MessageRoleAssistant || detail.ChatHistory[1].Content != answer.Answer {
		t.Fatalf("unexpected assistant turn: %+v", detail.ChatHistory[1])
	}

	resp = doJSON(t, c, http.MethodDelete, env.srv.URL+"/api/sessions/"+up.DocumentID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete session: status %d", resp.StatusCode)
	}
	list = nil
	doJSON(t, c, http.MethodGet, env.srv.URL+"/api/sessions", nil, &list)
	if list == nil || len(list) != 0 {
		t.Fatalf("expected an empty session array after delete, got %+v", list)
	}
}

func TestRegisterAdminScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	root := env.client(t)
	env.login(t, root, rootEmail, "!admin123")

	var ops domain.User
	resp := doJSON(t, root, http.MethodPost, env.srv.URL+"/api/admin/register-admin", map[string]string{"email": "ops@x.com", "password": "password1"}, &ops)
	if resp.StatusCode != http.StatusCreated || ops.Role != domain.RoleAdmin {
		t.Fatalf("root register-admin: status %d user %+v", resp.StatusCode, ops)
	}

	nonRoot := env.client(t)
	env.login(t, nonRoot, "ops@x.com", "password1")
	resp = doJSON(t, nonRoot, http.MethodPost, env.srv.URL+"/api/admin/register-admin", map[string]string{"email": "eve@x.com", "password": "password1"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-root register-admin: expected 403, got %d", resp.StatusCode)
	}
	if _, ok, _ := env.store.GetUserByEmail("eve@x.com"); ok {
		t.Fatalf("denied provisioning must not create an account")
	}

	resp = doJSON(t, root, http.MethodPost, env.srv.URL+"/api/admin/register-admin", map[string]string{"email": "eve@x.com", "password": "password1"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("root register-admin: status %d", resp.StatusCode)
	}
	eve, ok, _ := env.store.GetUserByEmail("eve@x.com")
	if !ok || eve.Role != domain.RoleAdmin {
		t.Fatalf("expected eve to be an admin, got %+v", eve)
	}

	user := env.registerAndLogin(t, "bob@x.com")
	resp = doJSON(t, user, http.MethodPost, env.srv.URL+"/api/admin/register-admin", map[string]string{"email": "mal@x.com", "password": "password1"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user register-admin: expected 403, got %d", resp.StatusCode)
	}
}

func TestSessionRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	anon := env.client(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/sessions"},
		{http.MethodGet, "/api/sessions/some-id"},
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/api/admin/users"},
		{http.MethodPost, "/api/admin/register-admin"},
	} {
		resp := doJSON(t, anon, tc.method, env.srv.URL+tc.path, nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s without session: expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "not-a-jwt"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request with bad cookie: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid cookie: expected 401, got %d", resp.StatusCode)
	}

	var body map[string]string
	resp = doJSON(t, anon, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]string{"email": "nobody@x.com", "password": "password1"}, &body)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != app.ErrInvalidCredentials.Error() {
		t.Fatalf("unknown login: status %d body %v", resp.StatusCode, body)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.registerAndLogin(t, "a@x.com")

	u := env.srv.URL + "/api/auth/me"
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	cookies := c.Jar.Cookies(req.URL)
	if len(cookies) != 1 {
		t.Fatalf("expected session cookie in jar, got %d", len(cookies))
	}
	stolen := cookies[0].Value

	resp := doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}
	resp = doJSON(t, c, http.MethodGet, u, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer "+stolen)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token replay: expected 401, got %d", resp.StatusCode)
	}
}

func TestOwnershipAcrossUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.registerAndLogin(t, "alice@x.com")
	bob := env.registerAndLogin(t, "bob@x.com")

	_, up := upload(t, alice, env.srv.URL, "a.pdf", "")
	if up.Title != "a.pdf" {
		t.Fatalf("title must default to filename, got %q", up.Title)
	}
	docURL := env.srv.URL + "/api/sessions/" + up.DocumentID

	if resp := doJSON(t, bob, http.MethodGet, docURL, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob reads alice's doc: expected 403, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, bob, http.MethodGet, env.srv.URL+"/api/sessions/does-not-exist", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("missing doc for user: expected 403, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, bob, http.MethodPost, env.srv.URL+"/api/chat", map[string]string{"documentId": up.DocumentID, "query": "hi"}, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob chats on alice's doc: expected 403, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, bob, http.MethodDelete, docURL, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob deletes alice's doc: expected 403, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, bob, http.MethodGet, env.srv.URL+"/api/admin/users", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob lists users: expected 403, got %d", resp.StatusCode)
	}

	root := env.client(t)
	env.login(t, root, rootEmail, "!admin123")
	if resp := doJSON(t, root, http.MethodGet, docURL, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("admin reads alice's doc: expected 200, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, root, http.MethodGet, env.srv.URL+"/api/sessions/does-not-exist", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing doc for admin: expected 404, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, root, http.MethodPost, env.srv.URL+"/api/chat", map[string]string{"documentId": up.DocumentID, "query": "hi"}, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin chats on alice's doc: expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.registerAndLogin(t, "alice@x.com")
	upload(t, alice, env.srv.URL, "one.pdf", "")
	_, second := upload(t, alice, env.srv.URL, "two.pdf", "")
	aliceUser, _, _ := env.store.GetUserByEmail("alice@x.com")
	rootUser, _, _ := env.store.GetUserByEmail(rootEmail)

	root := env.client(t)
	env.login(t, root, rootEmail, "!admin123")

	var users []domain.UserSummary
	resp := doJSON(t, root, http.MethodGet, env.srv.URL+"/api/admin/users?search=ALICE", nil, &users)
	if resp.StatusCode != http.StatusOK || len(users) != 1 || users[0].DocumentCount != 2 {
		t.Fatalf("admin users: status %d body %+v", resp.StatusCode, users)
	}

	var docs []userDocumentItem
	resp = doJSON(t, root, http.MethodGet, env.srv.URL+"/api/admin/users/"+aliceUser.ID+"/docs", nil, &docs)
	if resp.StatusCode != http.StatusOK || len(docs) != 2 {
		t.Fatalf("admin user docs: status %d body %+v", resp.StatusCode, docs)
	}
	names := map[string]bool{}
	for _, d := range docs {
		names[d.OriginalFilename] = true
	}
	if !names["one.pdf"] || !names["two.pdf"] {
		t.Fatalf("unexpected user docs: %+v", docs)
	}

	resp = doJSON(t, root, http.MethodDelete, env.srv.URL+"/api/admin/documents/"+second.DocumentID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete document: status %d", resp.StatusCode)
	}
	resp = doJSON(t, root, http.MethodDelete, env.srv.URL+"/api/admin/users/"+rootUser.ID, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("root self-delete: expected 403, got %d", resp.StatusCode)
	}
	resp = doJSON(t, root, http.MethodDelete, env.srv.URL+"/api/admin/users/"+aliceUser.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete alice: status %d", resp.StatusCode)
	}
	docs = nil
	resp = doJSON(t, root, http.MethodGet, env.srv.URL+"/api/admin/users/"+aliceUser.ID+"/docs", nil, &docs)
	if resp.StatusCode != http.StatusOK || docs == nil || len(docs) != 0 {
		t.Fatalf("docs of deleted user: expected empty array, got status %d body %+v", resp.StatusCode, docs)
	}

	// Alice's token is still signed and unexpired; her account no longer exists.
	resp, _ = upload(t, alice, env.srv.URL, "three.pdf", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("upload after account deletion: expected 401, got %d", resp.StatusCode)
	}
}

func TestUploadValidationAndAnalysisFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.registerAndLogin(t, "a@x.com")

	resp, _ := upload(t, c, env.srv.URL, "notes.txt", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-pdf upload: expected 400, got %d", resp.StatusCode)
	}

	env.analyzer.err = errors.New("too little text")
	resp, _ = upload(t, c, env.srv.URL, "tiny.pdf", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("failed analysis: expected 500, got %d", resp.StatusCode)
	}
	var list []sessionItem
	doJSON(t, c, http.MethodGet, env.srv.URL+"/api/sessions", nil, &list)
	if len(list) != 0 {
		t.Fatalf("failed analysis must not create a session, got %d", len(list))
	}

	var body map[string]string
	resp = doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]string{"email": "short@x.com", "password": "short"}, &body)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body["error"], "at least 8") {
		t.Fatalf("short password: status %d body %v", resp.StatusCode, body)
	}
	resp = doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]string{"email": "A@x.com", "password": "password1"}, &body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate email: expected 400, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "docchat:test:login", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	env := newTestEnv(t, func(cfg *Config) { cfg.LoginLimiter = limiter })
	c := env.client(t)

	creds := map[string]string{"email": rootEmail, "password": "!admin123"}
	if resp := doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/login", creds, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first login: expected 200, got %d", resp.StatusCode)
	}
	resp := doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/login", creds, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login: expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if resp := doJSON(t, c, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]string{"email": "n@x.com", "password": "password1"}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register is not login-limited: got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	var body map[string]string
	resp := doJSON(t, http.DefaultClient, http.MethodGet, env.srv.URL+"/healthz", nil, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: status %d body %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSecurityEventsCarryUserIDOnce(t *testing.T) {
	logs := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	env := newTestEnv(t, nil)
	root := env.client(t)
	env.login(t, root, rootEmail, "!admin123")
	if resp := doJSON(t, root, http.MethodGet, env.srv.URL+"/api/admin/users", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("admin users: status %d", resp.StatusCode)
	}

	events := 0
	for _, line := range strings.Split(logs.String(), "\n") {
		if !strings.Contains(line, `"msg":"security_event"`) {
			continue
		}
		if !strings.Contains(line, `"event":"session.verify"`) && !strings.Contains(line, `"event":"admin.authorize"`) {
			continue
		}
		events++
		if n := strings.Count(line, `"user_id":`); n != 1 {
			t.Fatalf("expected user_id once, found %d times in %s", n, line)
		}
	}
	if events != 2 {
		t.Fatalf("expected session.verify and admin.authorize events, got %d", events)
	}
}
