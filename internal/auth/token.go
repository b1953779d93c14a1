// internal/auth/token.go
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrNoToken reports that no bearer token could be located in the snapshot.
var ErrNoToken = errors.New("no bearer token found in web storage")

// tokenKeyCandidates are the field names worth inspecting inside structured
// storage values, in priority order. Matching is case-insensitive. Raw values
// are checked for JWT shape under any key; the candidates only steer the
// JSON pass.
var tokenKeyCandidates = []string{
	"token",
	"access_token",
	"jwt",
	"auth",
	"authorization",
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TokenExtractor locates a JWT bearer token in a web storage snapshot. The
// persistent area is searched exhaustively before the session area is
// touched, since the portal keeps long-lived tokens in localStorage.
type TokenExtractor struct {
	log *zap.Logger
}

func NewTokenExtractor(logger *zap.Logger) *TokenExtractor {
	return &TokenExtractor{log: logger.Named("token")}
}

// Extract returns the first bearer token found, or ErrNoToken.
func (e *TokenExtractor) Extract(snapshot StorageSnapshot) (string, error) {
	for _, area := range []struct {
		name    string
		entries []StorageEntry
	}{
		{"local_storage", snapshot.Persistent},
		{"session_storage", snapshot.Session},
	} {
		if token, ok := e.scan(area.entries); ok {
			e.log.Info("Bearer token located",
				zap.String("area", area.name))
			e.logExpiry(token)
			return token, nil
		}
	}
	return "", ErrNoToken
}

// scan walks one storage area entry by entry, regardless of key. A JSON
// document is routed to the structured pass; anything else is checked for
// JWT shape directly. The first hit wins.
func (e *TokenExtractor) scan(entries []StorageEntry) (string, bool) {
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry.Value)
		if strings.HasPrefix(trimmed, "{") {
			if token, ok := e.fromJSON(trimmed); ok {
				return token, true
			}
			continue
		}
		if token, ok := asJWT(entry.Value); ok {
			return token, true
		}
	}
	return "", false
}

// fromJSON digs through a JSON document for a candidate field holding a JWT.
// Objects are descended into; nothing deeper than a few levels exists in
// practice but the walk is unbounded on objects and bounded by the document.
func (e *TokenExtractor) fromJSON(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var doc map[string]any
	if err := json.UnmarshalFromString(trimmed, &doc); err != nil {
		return "", false
	}
	return findTokenField(doc)
}

func findTokenField(doc map[string]any) (string, bool) {
	// Candidate keys at this level win over matches deeper down.
	for _, candidate := range tokenKeyCandidates {
		for key, raw := range doc {
			if !strings.EqualFold(key, candidate) {
				continue
			}
			if s, ok := raw.(string); ok {
				if token, ok := asJWT(s); ok {
					return token, true
				}
			}
		}
	}
	for _, raw := range doc {
		if nested, ok := raw.(map[string]any); ok {
			if token, ok := findTokenField(nested); ok {
				return token, true
			}
		}
	}
	return "", false
}

// logExpiry decodes the claims without verifying the signature, purely to
// surface the expiry in the log. Verification is the API's job.
func (e *TokenExtractor) logExpiry(token string) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		e.log.Debug("Token claims not decodable", zap.Error(err))
		return
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		e.log.Warn("Bearer token is already expired", zap.Time("expires", exp.Time))
		return
	}
	e.log.Info("Bearer token expiry", zap.Time("expires", exp.Time))
}

// asJWT reports whether s is structurally a JWT: an optional Bearer prefix
// followed by exactly three non-empty dot-separated segments.
func asJWT(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Bearer ")
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", false
	}
	for _, part := range parts {
		if part == "" {
			return "", false
		}
	}
	return s, true
}
