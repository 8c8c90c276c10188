package voiceagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "vk_test_0123456789abcdef0123456789abcdef"

func TestSessionToken_RoundTrip(t *testing.T) {
	now := time.Now()
	res := GenerateSessionToken(testAPIKey, "user-7", now)
	require.True(t, res.Success, "%v", res.Error)
	assert.Equal(t, now.Add(SessionTokenTTL), res.Data.ExpiresAt)
	assert.False(t, res.Data.Expired(now))
	assert.True(t, res.Data.Expired(now.Add(SessionTokenTTL)))

	claims := DecodeSessionToken(res.Data.Token, testAPIKey)
	require.True(t, claims.Success, "%v", claims.Error)
	assert.Equal(t, "vk_test_...", claims.Data["apiKey"])
	assert.Equal(t, "user-7", claims.Data["userId"])
	assert.NotContains(t, res.Data.Token, testAPIKey)
}

func TestSessionToken_Failures(t *testing.T) {
	res := GenerateSessionToken("short", "", time.Now())
	assert.False(t, res.Success)
	assert.True(t, IsErrorCode(res.Error, ErrCodeTokenFailed))

	token := GenerateSessionToken(testAPIKey, "", time.Now()).Data.Token
	wrongKey := DecodeSessionToken(token, strings.Repeat("x", APIKeyMinLength))
	assert.False(t, wrongKey.Success)

	expired := GenerateSessionToken(testAPIKey, "", time.Now().Add(-time.Hour)).Data.Token
	assert.False(t, DecodeSessionToken(expired, testAPIKey).Success)
}

func TestTokenSourceFromConfig(t *testing.T) {
	endpoint := "http://127.0.0.1/token"

	config := NewClientConfig()
	config.Token = "static"
	config.TokenEndpoint = &endpoint
	config.APIKey = testAPIKey
	assert.Equal(t, StaticToken("static"), TokenSourceFromConfig(config))

	config.Token = ""
	assert.IsType(t, &TokenManager{}, TokenSourceFromConfig(config))

	config.TokenEndpoint = nil
	src := TokenSourceFromConfig(config)
	require.IsType(t, &APIKeyTokenSource{}, src)
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, DecodeSessionToken(token, testAPIKey).Success)

	config.APIKey = ""
	assert.Equal(t, StaticToken(""), TokenSourceFromConfig(config))
}

func TestAPIKeyTokenSource_InvalidKey(t *testing.T) {
	src := &APIKeyTokenSource{APIKey: "short"}
	_, err := src.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenFailed)
}

func TestTokenManager_Caches(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	var requests int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer app", r.Header.Get("Authorization"))
		n := atomic.AddInt32(&requests, 1)
		body, _ := sonic.Marshal(map[string]any{
			"token":     "tok-" + string(rune('0'+n)),
			"expiresAt": clock.Now().Add(time.Minute).UnixMilli(),
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	tm := NewTokenManager(server.URL, map[string]string{"Authorization": "Bearer app"}, 30*time.Second).WithClock(clock)

	_, _, ok := tm.TokenInfo()
	assert.False(t, ok)

	token, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	clock.Advance(10 * time.Second)
	token, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))

	// Inside the refresh buffer the token is fetched again.
	clock.Advance(25 * time.Second)
	token, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	cached, expiresAt, ok := tm.TokenInfo()
	require.True(t, ok)
	assert.Equal(t, "tok-2", cached)
	assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), expiresAt.UnixMilli())

	tm.Clear()
	_, _, ok = tm.TokenInfo()
	assert.False(t, ok)
}

func TestTokenManager_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"bad status", http.StatusForbidden, `{}`, "failed to refresh token"},
		{"invalid json", http.StatusOK, `{"token":`, "invalid token response"},
		{"missing token", http.StatusOK, `{"expiresAt":1}`, "no token received"},
		{"missing expiry", http.StatusOK, `{"token":"t"}`, "invalid expiresAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewTokenManager(server.URL, nil, 0).Token(context.Background())
			require.ErrorIs(t, err, ErrTokenFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
