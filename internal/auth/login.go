package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrLoginFailed = errors.New("login failed")

// Login exchanges a username and password for a token pair and persists it
// to path for later sessions.
func Login(ctx context.Context, tokenURL, username, password, path string) (Tokens, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Tokens{}, fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		return Tokens{}, fmt.Errorf("%w: incomplete token pair", ErrLoginFailed)
	}

	if err := persist(path, tokens); err != nil {
		return Tokens{}, fmt.Errorf("save tokens: %w", err)
	}
	return tokens, nil
}
