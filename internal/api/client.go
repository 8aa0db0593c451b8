package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnauthorized means the credential could not be recovered: the refresh
// itself failed or the retried request was rejected again. Callers escalate
// this to a forced logout; nothing below this layer retries further.
var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx REST response.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Credentials supplies the bearer token and recovers it on auth failure.
// *auth.Provider satisfies this.
type Credentials interface {
	Access() string
	Refresh(ctx context.Context) (string, error)
}

// Client is the REST client for the StudyHive API. On a 401 it refreshes
// the credential (single-flighted inside the provider) and retries the
// request exactly once; a second 401 surfaces as ErrUnauthorized rather
// than recursing into another refresh.
type Client struct {
	base   string
	creds  Credentials
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client rooted at the API base URL, e.g.
// "https://studyhive.qzz.io/api".
func NewClient(base string, creds Credentials, logger *slog.Logger) *Client {
	return &Client{
		base:   base,
		creds:  creds,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body, c.creds.Access())
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		token, err := c.creds.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		resp, err = c.send(ctx, method, path, body, token)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			return ErrUnauthorized
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.http.Do(req)
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	var payload struct {
		Detail  string `json:"detail"`
		Err     string `json:"error"`
		Message string `json:"message"`
	}
	detail := ""
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		switch {
		case payload.Detail != "":
			detail = payload.Detail
		case payload.Err != "":
			detail = payload.Err
		case payload.Message != "":
			detail = payload.Message
		}
	}
	return &Error{Status: resp.StatusCode, Detail: detail}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
