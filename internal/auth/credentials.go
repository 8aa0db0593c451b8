package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoCredentials = errors.New("no stored credentials")
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// Tokens is the access/refresh pair issued by the platform. Token issuance
// itself happens in the webapp; the CLI only consumes and refreshes.
type Tokens struct {
	Access  string `yaml:"access" json:"access"`
	Refresh string `yaml:"refresh" json:"refresh"`
}

// Provider hands out the current access token and refreshes it when a
// request hits an authorization failure. Refresh is single-flighted:
// concurrent callers coalesce into one request and all settle together.
type Provider struct {
	refreshURL string
	client     *http.Client
	logger     *slog.Logger

	mu     sync.RWMutex
	tokens Tokens
	path   string

	group singleflight.Group
}

// NewProvider loads the token pair from path. refreshURL is the token
// refresh endpoint; it is called without bearer auth.
func NewProvider(path, refreshURL string, logger *slog.Logger) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrNoCredentials
	}

	var tokens Tokens
	if err := yaml.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tokens.Access == "" {
		return nil, ErrNoCredentials
	}

	return &Provider{
		refreshURL: refreshURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		tokens:     tokens,
		path:       path,
	}, nil
}

// Access returns the current access token.
func (p *Provider) Access() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tokens.Access
}

// Refresh exchanges the refresh token for a new access token. Any number of
// concurrent callers share one in-flight request; each receives the same
// token or the same error once it settles.
func (p *Provider) Refresh(ctx context.Context) (string, error) {
	v, err, _ := p.group.Do("refresh", func() (any, error) {
		return p.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) doRefresh(ctx context.Context) (string, error) {
	p.mu.RLock()
	refresh := p.tokens.Refresh
	p.mu.RUnlock()

	if refresh == "" {
		return "", ErrRefreshFailed
	}

	body, _ := json.Marshal(map[string]string{"refresh": refresh})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if tokens.Access == "" {
		return "", ErrRefreshFailed
	}

	p.mu.Lock()
	p.tokens.Access = tokens.Access
	if tokens.Refresh != "" {
		p.tokens.Refresh = tokens.Refresh
	}
	saved := p.tokens
	path := p.path
	p.mu.Unlock()

	if path != "" {
		if err := persist(path, saved); err != nil {
			p.logger.Warn("failed to persist refreshed tokens", "error", err)
		}
	}

	return tokens.Access, nil
}

func persist(path string, tokens Tokens) error {
	data, err := yaml.Marshal(tokens)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
