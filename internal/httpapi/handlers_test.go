package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"userboard.io/internal/auth"
	"userboard.io/internal/events"
	"userboard.io/internal/keys"
	"userboard.io/internal/obs"
	"userboard.io/internal/onboarding"
	"userboard.io/internal/token"
)

const (
	adminEmail    = "root@userboard.test"
	adminPassword = "root-password"
)

var testMaterial *keys.Material

func material(t *testing.T) *keys.Material {
	t.Helper()
	if testMaterial == nil {
		m, err := keys.Generate(2048)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		testMaterial = m
	}
	return testMaterial
}

type apiClient struct {
	baseURL string
	client  *http.Client
	bus     *events.Bus
	t       *testing.T
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("db unreachable") }

func newTestAPI(t *testing.T, ready ReadinessChecker) *apiClient {
	t.Helper()
	quiet := obs.NewLogger(io.Discard, "error")

	tokens, err := token.New(material(t), token.WithIssuer("userboard-test"))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, tokens, auth.WithLogger(quiet))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	bus := events.NewBus(events.WithLogger(quiet))
	t.Cleanup(bus.Close)
	machine := onboarding.New(store, bus, onboarding.WithLogger(quiet))
	if _, err := machine.Bootstrap(context.Background(), adminEmail, adminPassword); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	api := New(Deps{
		Auth:           svc,
		Onboarding:     machine,
		Bus:            bus,
		Ready:          ready,
		Version:        "test",
		Logger:         quiet,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), bus: bus, t: t}
}

func (c *apiClient) do(method, path string, body any, bearerToken string, cookies ...*http.Cookie) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) register(email string) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"email": email, "password": "password1", "first_name": "Test",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	body := decode[struct {
		User auth.UserView `json:"user"`
	}](c.t, resp)
	return body.User.ID
}

// login returns the access token and the refresh cookie.
func (c *apiClient) login(email, password string) (string, *http.Cookie) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": email, "password": password}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	cookie := refreshCookieFrom(c.t, resp)
	body := decode[tokenResponse](c.t, resp)
	if body.AccessToken == "" || body.TokenType != "Bearer" {
		c.t.Fatalf("unexpected login body %+v", body)
	}
	return body.AccessToken, cookie
}

func refreshCookieFrom(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookie {
			return ck
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, raw)
	}
	return decode[map[string]any](t, resp)
}

func TestRegistrationApprovalLoginFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken, _ := api.login(adminEmail, adminPassword)

	userID := api.register("Ada@Example.com")

	body := expectStatus(t, api.do(http.MethodPost, "/v1/auth/login",
		map[string]any{"email": "ada@example.com", "password": "password1"}, ""), http.StatusForbidden)
	if body["error"] != "account is not active" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	pending := expectStatus(t, api.do(http.MethodGet, "/v1/admin/users/pending", nil, adminToken), http.StatusOK)
	if pending["count"].(float64) != 1 {
		t.Fatalf("expected one pending user, got %v", pending["count"])
	}

	approved := expectStatus(t, api.do(http.MethodPost, "/v1/admin/users/"+userID+"/approve", nil, adminToken), http.StatusOK)
	if approved["status"] != "ACTIVE" {
		t.Fatalf("unexpected status %v", approved["status"])
	}

	access, cookie := api.login("ada@example.com", "password1")
	if !cookie.HttpOnly || cookie.Path != refreshCookiePath {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	me := expectStatus(t, api.do(http.MethodGet, "/v1/users/me", nil, access), http.StatusOK)
	if me["user"].(map[string]any)["email"] != "ada@example.com" || me["active_sessions"].(float64) != 1 {
		t.Fatalf("unexpected me response %v", me)
	}

	refreshed := expectStatus(t, api.do(http.MethodPost, "/v1/auth/refresh", nil, "", cookie), http.StatusOK)
	if refreshed["access_token"] == "" {
		t.Fatal("expected a new access token")
	}

	resp := api.do(http.MethodPost, "/v1/auth/logout", nil, "", cookie)
	expectStatus(t, resp, http.StatusOK)

	body = expectStatus(t, api.do(http.MethodPost, "/v1/auth/refresh",
		map[string]any{"refresh_token": cookie.Value}, ""), http.StatusUnauthorized)
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestLoginErrorsAreUniform(t *testing.T) {
	api := newTestAPI(t, nil)

	unknown := expectStatus(t, api.do(http.MethodPost, "/v1/auth/login",
		map[string]any{"email": "ghost@x.com", "password": "whatever1"}, ""), http.StatusUnauthorized)
	wrong := expectStatus(t, api.do(http.MethodPost, "/v1/auth/login",
		map[string]any{"email": adminEmail, "password": "wrong-password"}, ""), http.StatusUnauthorized)
	if unknown["error"] != "invalid credentials" || wrong["error"] != unknown["error"] {
		t.Fatalf("expected uniform errors, got %v / %v", unknown["error"], wrong["error"])
	}
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	api := newTestAPI(t, nil)
	api.register("dup@x.com")

	body := expectStatus(t, api.do(http.MethodPost, "/v1/auth/register",
		map[string]any{"email": "DUP@x.com", "password": "password1"}, ""), http.StatusConflict)
	if body["error"] != "email already registered" {
		t.Fatalf("unexpected error %v", body["error"])
	}
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/register",
		map[string]any{"email": "short@x.com", "password": "short"}, ""), http.StatusBadRequest)
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/register",
		map[string]any{"email": "x@x.com", "password": "password1", "role": "ADMIN"}, ""), http.StatusBadRequest)
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/register", nil, ""), http.StatusBadRequest)
}

func TestAuthorizationBoundaries(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken, _ := api.login(adminEmail, adminPassword)
	aliceID := api.register("alice@x.com")
	bobID := api.register("bob@x.com")
	for _, id := range []string{aliceID, bobID} {
		expectStatus(t, api.do(http.MethodPost, "/v1/admin/users/"+id+"/approve", nil, adminToken), http.StatusOK)
	}
	aliceToken, aliceCookie := api.login("alice@x.com", "password1")

	resp := api.do(http.MethodGet, "/v1/admin/users/pending", nil, "")
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}
	expectStatus(t, resp, http.StatusUnauthorized)
	expectStatus(t, api.do(http.MethodGet, "/v1/admin/users/pending", nil, aliceToken), http.StatusForbidden)
	expectStatus(t, api.do(http.MethodGet, "/v1/users/"+aliceID, nil, aliceToken), http.StatusOK)
	expectStatus(t, api.do(http.MethodGet, "/v1/users/"+bobID, nil, aliceToken), http.StatusForbidden)
	expectStatus(t, api.do(http.MethodGet, "/v1/users/"+bobID, nil, adminToken), http.StatusOK)

	// A refresh token is not an access token.
	expectStatus(t, api.do(http.MethodGet, "/v1/users/me", nil, aliceCookie.Value), http.StatusUnauthorized)
	expectStatus(t, api.do(http.MethodGet, "/v1/users/me", nil, "garbage"), http.StatusUnauthorized)
}

func TestAdminDecisions(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken, _ := api.login(adminEmail, adminPassword)
	id := api.register("carol@x.com")

	rejected := expectStatus(t, api.do(http.MethodPost, "/v1/admin/users/"+id+"/reject",
		map[string]any{"reason": "incomplete profile"}, adminToken), http.StatusOK)
	if rejected["status"] != "REJECTED" {
		t.Fatalf("unexpected status %v", rejected["status"])
	}
	expectStatus(t, api.do(http.MethodPost, "/v1/admin/users/"+id+"/approve", nil, adminToken), http.StatusConflict)
	expectStatus(t, api.do(http.MethodPost, "/v1/admin/users/missing/approve", nil, adminToken), http.StatusNotFound)

	history := expectStatus(t, api.do(http.MethodGet, "/v1/admin/users/"+id+"/audit", nil, adminToken), http.StatusOK)
	entries := history["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	latest := entries[0].(map[string]any)
	if latest["action"] != "REJECTED" || latest["reason"] != "incomplete profile" {
		t.Fatalf("unexpected latest entry %v", latest)
	}

	stats := expectStatus(t, api.do(http.MethodGet, "/v1/admin/statistics", nil, adminToken), http.StatusOK)
	if stats["rejected"].(float64) != 1 || stats["active"].(float64) != 1 || stats["total"].(float64) != 2 {
		t.Fatalf("unexpected statistics %v", stats)
	}

	page := expectStatus(t, api.do(http.MethodGet, "/v1/admin/users?"+url.Values{"page": {"0"}, "size": {"1"}}.Encode(), nil, adminToken), http.StatusOK)
	if page["total"].(float64) != 2 || len(page["users"].([]any)) != 1 {
		t.Fatalf("unexpected page %v", page)
	}
	expectStatus(t, api.do(http.MethodGet, "/v1/admin/users?size=1000", nil, adminToken), http.StatusBadRequest)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	api := newTestAPI(t, nil)
	access, first := api.login(adminEmail, adminPassword)
	_, second := api.login(adminEmail, adminPassword)

	body := expectStatus(t, api.do(http.MethodPost, "/v1/auth/logout-all", nil, access), http.StatusOK)
	if body["revoked"].(float64) != 2 {
		t.Fatalf("expected 2 revoked sessions, got %v", body["revoked"])
	}
	for _, ck := range []*http.Cookie{first, second} {
		expectStatus(t, api.do(http.MethodPost, "/v1/auth/refresh", nil, "", ck), http.StatusUnauthorized)
	}
	// Logout with nothing to revoke still succeeds.
	expectStatus(t, api.do(http.MethodPost, "/v1/auth/logout", nil, ""), http.StatusOK)
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, nil)
	health := expectStatus(t, api.do(http.MethodGet, "/healthz", nil, ""), http.StatusOK)
	if health["service"] != serviceName || health["version"] != "test" {
		t.Fatalf("unexpected health %v", health)
	}
	expectStatus(t, api.do(http.MethodGet, "/readyz", nil, ""), http.StatusOK)

	down := newTestAPI(t, failingReadiness{})
	body := expectStatus(t, down.do(http.MethodGet, "/readyz", nil, ""), http.StatusServiceUnavailable)
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected readiness body %v", body)
	}
}

func TestEventStreamDeliversLifecycleEvents(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken, _ := api.login(adminEmail, adminPassword)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/admin/events?topic="+events.TopicUserRegistered, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read blank line: %v", err)
	}

	api.register("dave@x.com")

	eventLine, err := reader.ReadString('\n')
	if err != nil || strings.TrimSpace(eventLine) != "event: "+events.TopicUserRegistered {
		t.Fatalf("unexpected event line %q (%v)", eventLine, err)
	}
	dataLine, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(dataLine, "data: ") {
		t.Fatalf("unexpected data line %q (%v)", dataLine, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["email"] != "dave@x.com" || payload["requiresApproval"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
}
