package voiceagent

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
)

const (
	SessionTokenTTL = 10 * time.Minute
	APIKeyMinLength = 32
)

// TokenSource supplies the token appended to the agent URL.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed, pre-issued token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// SessionToken is a minted token and its expiry.
type SessionToken struct {
	Token     string
	ExpiresAt time.Time
}

func (t SessionToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// GenerateSessionToken signs an HS256 token with apiKey. The key itself is
// never embedded, only its prefix.
func GenerateSessionToken(apiKey string, userID string, now time.Time) Result[SessionToken] {
	if len(apiKey) < APIKeyMinLength {
		return Err[SessionToken](NewTokenError("invalid API key format", nil))
	}

	expiresAt := now.Add(SessionTokenTTL)
	claims := jwt.MapClaims{
		"apiKey": apiKey[:8] + "...",
		"iat":    now.Unix(),
		"exp":    expiresAt.Unix(),
	}
	if userID != "" {
		claims["userId"] = userID
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(apiKey))
	if err != nil {
		return Err[SessionToken](NewTokenError("token generation failed", err))
	}
	return Ok(SessionToken{Token: signed, ExpiresAt: expiresAt})
}

// DecodeSessionToken verifies token against apiKey and returns its claims.
func DecodeSessionToken(token string, apiKey string) Result[map[string]interface{}] {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, NewTokenError("unexpected signing method "+t.Method.Alg(), nil)
		}
		return []byte(apiKey), nil
	})
	if err != nil {
		return Err[map[string]interface{}](NewTokenError("token decode failed", err))
	}

	if claims, ok := parsed.Claims.(jwt.MapClaims); ok && parsed.Valid {
		return Ok(map[string]interface{}(claims))
	}
	return Err[map[string]interface{}](NewTokenError("invalid token", nil))
}

// APIKeyTokenSource mints a fresh session token from an API key on every
// connect.
type APIKeyTokenSource struct {
	APIKey string
	UserID string
	Clock  clockwork.Clock
}

func (s *APIKeyTokenSource) Token(context.Context) (string, error) {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	res := GenerateSessionToken(s.APIKey, s.UserID, clock.Now())
	if !res.Success {
		return "", res.Error
	}
	return res.Data.Token, nil
}

// TokenSourceFromConfig picks the token source config describes, in order
// of precedence: a static token, a token endpoint, an API key.
func TokenSourceFromConfig(config *ClientConfig) TokenSource {
	switch {
	case config.Token != "":
		return StaticToken(config.Token)
	case config.TokenEndpoint != nil:
		return NewTokenManager(*config.TokenEndpoint, config.Headers, 30*time.Second)
	case config.APIKey != "":
		return &APIKeyTokenSource{APIKey: config.APIKey, UserID: config.UserID}
	default:
		return StaticToken("")
	}
}
