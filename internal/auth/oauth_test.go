package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestLoginURL(t *testing.T) {
	flow := NewOAuthFlow("client-id", "client-secret", "https://app.example/auth/github/callback")

	raw := flow.LoginURL("state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse login url: %v", err)
	}

	q := u.Query()
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if !strings.Contains(q.Get("scope"), "repo") {
		t.Errorf("scope = %q, want repo included", q.Get("scope"))
	}
	if q.Get("redirect_uri") != "https://app.example/auth/github/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
}

func TestExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("code") != "auth-code" {
			t.Errorf("code = %q", r.Form.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "gho_exchanged", "token_type": "bearer"}`))
	}))
	t.Cleanup(srv.Close)

	flow := NewOAuthFlow("cid", "csec", "http://localhost/cb")
	flow.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}

	token, err := flow.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange() error: %v", err)
	}
	if token != "gho_exchanged" {
		t.Errorf("token = %q, want gho_exchanged", token)
	}
}

func TestExchange_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "", "token_type": "bearer"}`))
	}))
	t.Cleanup(srv.Close)

	flow := NewOAuthFlow("cid", "csec", "http://localhost/cb")
	flow.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}

	if _, err := flow.Exchange(context.Background(), "code"); err == nil {
		t.Error("expected error for empty access token")
	}
}

func TestGenerateState(t *testing.T) {
	s1, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error: %v", err)
	}
	if len(s1) != 32 {
		t.Errorf("len(state) = %d, want 32 hex chars", len(s1))
	}

	s2, _ := GenerateState()
	if s1 == s2 {
		t.Error("GenerateState() produced identical values")
	}
}
