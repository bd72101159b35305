package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"photoshare.io/sessiond/internal/ids"
)

type session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	base := os.Getenv("SESSIOND_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 5 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	username := "smoke" + strings.ToLower(ids.New()[16:])
	password := "smoke-password-1"

	c.expect(ctx, http.MethodPost, "/v1/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}, "", http.StatusCreated, nil)

	var first session
	c.expect(ctx, http.MethodPost, "/v1/auth/login", map[string]string{"username": username, "password": password}, "", http.StatusOK, &first)
	c.expect(ctx, http.MethodGet, "/v1/users/me", nil, first.AccessToken, http.StatusOK, nil)

	var second session
	c.expect(ctx, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, "", http.StatusOK, &second)
	if second.RefreshToken == first.RefreshToken {
		log.Fatalf("refresh did not rotate the token; is AUTH_REFRESH_POLICY=reuse?")
	}

	// Replaying the rotated token must fail.
	c.expect(ctx, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, "", http.StatusUnauthorized, nil)

	c.expect(ctx, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": second.RefreshToken}, "", http.StatusOK, nil)
	c.expect(ctx, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": second.RefreshToken}, "", http.StatusUnauthorized, nil)
	c.expect(ctx, http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": second.RefreshToken}, "", http.StatusBadRequest, nil)

	fmt.Printf("✅ sessiond smoke test passed: user=%s\n", username)
}

func (c *client) expect(ctx context.Context, method, path string, body any, token string, want int, out any) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
