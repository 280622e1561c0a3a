package resilienttelemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

// expirySkew treats tokens that expire within this window as already expired.
const expirySkew = 5 * time.Second

// TokenSourceRefresher adapts an oauth2.TokenSource to a BearerRefresher.
// Use oauth2.ReuseTokenSource to avoid hitting the token endpoint for a token
// that is still valid.
func TokenSourceRefresher(ts oauth2.TokenSource) BearerRefresher {
	return func(_ context.Context, _ string) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		if !tok.Valid() {
			return "", errors.New("token source returned an invalid token")
		}
		return tok.AccessToken, nil
	}
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	switch exp := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case json.Number:
		if v, err := exp.Int64(); err == nil {
			return time.Unix(v, 0), true
		}
	}
	return time.Time{}, false
}

func tokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && !now.Add(expirySkew).Before(exp)
}
