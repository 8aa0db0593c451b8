package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoginPersistsTokenPair(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if body["username"] != "alice" || body["password"] != "hunter2" {
			t.Errorf("login body = %v", body)
		}
		json.NewEncoder(w).Encode(Tokens{Access: "a1", Refresh: "r1"})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "tokens.yaml")
	tokens, err := Login(context.Background(), server.URL, "alice", "hunter2", path)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tokens.Access != "a1" || tokens.Refresh != "r1" {
		t.Errorf("tokens = %+v", tokens)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	var saved Tokens
	if err := yaml.Unmarshal(data, &saved); err != nil {
		t.Fatalf("unmarshal token file: %v", err)
	}
	if saved != tokens {
		t.Errorf("saved = %+v, want %+v", saved, tokens)
	}
}

func TestLoginRejectedByServer(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "tokens.yaml")
	_, err := Login(context.Background(), server.URL, "alice", "wrong", path)
	if !errors.Is(err, ErrLoginFailed) {
		t.Errorf("error = %v, want ErrLoginFailed", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("token file written despite failed login")
	}
}

func TestLoginIncompletePairRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Tokens{Access: "a1"})
	}))
	defer server.Close()

	_, err := Login(context.Background(), server.URL, "alice", "hunter2", filepath.Join(t.TempDir(), "tokens.yaml"))
	if !errors.Is(err, ErrLoginFailed) {
		t.Errorf("error = %v, want ErrLoginFailed", err)
	}
}
