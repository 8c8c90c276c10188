package voiceagent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
)

// TokenManager fetches session tokens from an HTTP endpoint and caches them
// until refreshBuffer before expiry.
type TokenManager struct {
	endpoint      string
	headers       map[string]string
	refreshBuffer time.Duration
	httpClient    *http.Client
	clock         clockwork.Clock

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func NewTokenManager(endpoint string, headers map[string]string, refreshBuffer time.Duration) *TokenManager {
	return &TokenManager{
		endpoint:      endpoint,
		headers:       headers,
		refreshBuffer: refreshBuffer,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		clock:         clockwork.NewRealClock(),
	}
}

// WithClock replaces the clock used for expiry checks.
func (tm *TokenManager) WithClock(clock clockwork.Clock) *TokenManager {
	tm.clock = clock
	return tm
}

// Token returns the cached token or fetches a new one.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && tm.clock.Now().Before(tm.expiresAt.Add(-tm.refreshBuffer)) {
		return tm.token, nil
	}
	return tm.refreshToken(ctx)
}

// refreshToken must be called with tm.mu held.
func (tm *TokenManager) refreshToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.endpoint, bytes.NewBufferString("{}"))
	if err != nil {
		return "", NewTokenError("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range tm.headers {
		req.Header.Set(k, v)
	}

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", NewTokenError("token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewTokenError(fmt.Sprintf("failed to refresh token: %s", resp.Status), nil).
			AddDetail("status_code", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewTokenError("failed to read token response", err)
	}

	var data tokenResponse
	if err := sonic.Unmarshal(body, &data); err != nil {
		return "", NewTokenError("invalid token response", err)
	}
	if data.Token == "" {
		return "", NewTokenError("no token received", nil)
	}
	if data.ExpiresAt <= 0 {
		return "", NewTokenError("invalid expiresAt", nil)
	}

	tm.token = data.Token
	tm.expiresAt = time.UnixMilli(data.ExpiresAt)
	return tm.token, nil
}

func (tm *TokenManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = ""
	tm.expiresAt = time.Time{}
}

// TokenInfo returns the cached token and its expiry, if any.
func (tm *TokenManager) TokenInfo() (string, time.Time, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.token == "" {
		return "", time.Time{}, false
	}
	return tm.token, tm.expiresAt, true
}
