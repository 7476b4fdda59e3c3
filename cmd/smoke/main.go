package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"userboard.io/internal/ids"
)

type client struct {
	base string
	http *http.Client
}

func main() {
	base := os.Getenv("USERBOARD_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	adminEmail := os.Getenv("USERBOARD_BOOTSTRAP_ADMIN_EMAIL")
	adminPassword := os.Getenv("USERBOARD_BOOTSTRAP_ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		log.Fatal("USERBOARD_BOOTSTRAP_ADMIN_EMAIL and USERBOARD_BOOTSTRAP_ADMIN_PASSWORD are required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second, Jar: jar}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var admin struct {
		AccessToken string `json:"access_token"`
	}
	c.must(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": adminEmail, "password": adminPassword}, http.StatusOK, &admin)

	var before map[string]int64
	c.must(ctx, http.MethodGet, "/v1/admin/statistics", admin.AccessToken, nil, http.StatusOK, &before)

	email := fmt.Sprintf("smoke-%s@userboard.test", ids.New())
	password := "smoke-password"
	var reg struct {
		User struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"user"`
	}
	c.must(ctx, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": password}, http.StatusCreated, &reg)
	if reg.User.Status != "PENDING" {
		log.Fatalf("expected PENDING after registration, got %s", reg.User.Status)
	}

	c.must(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password}, http.StatusForbidden, nil)
	c.must(ctx, http.MethodPost, "/v1/admin/users/"+reg.User.ID+"/approve", admin.AccessToken, nil, http.StatusOK, nil)

	var user struct {
		AccessToken string `json:"access_token"`
	}
	c.must(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password}, http.StatusOK, &user)
	c.must(ctx, http.MethodGet, "/v1/users/me", user.AccessToken, nil, http.StatusOK, nil)
	// Secure cookies are not replayed over plain http.
	if u, err := url.Parse(c.base + "/v1/auth/refresh"); err == nil && len(jar.Cookies(u)) > 0 {
		c.must(ctx, http.MethodPost, "/v1/auth/refresh", "", nil, http.StatusOK, nil)
	} else {
		log.Printf("skipping refresh: no refresh cookie for %s", c.base)
	}
	c.must(ctx, http.MethodPost, "/v1/auth/logout-all", user.AccessToken, nil, http.StatusOK, nil)

	var after map[string]int64
	c.must(ctx, http.MethodGet, "/v1/admin/statistics", admin.AccessToken, nil, http.StatusOK, &after)
	if after["total"] != before["total"]+1 || after["active"] != before["active"]+1 {
		log.Fatalf("unexpected statistics: before=%v after=%v", before, after)
	}

	fmt.Printf("userboard smoke test passed: user=%s\n", reg.User.ID)
}

func (c *client) must(ctx context.Context, method, path, bearer string, body any, want int, out any) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
