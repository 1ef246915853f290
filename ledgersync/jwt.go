// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mobiletoly/go-ledgersync/internal/auth"
)

const tokenIssuer = "go-ledgersync"

// JWTAuth signs and checks HS256 bearer tokens for the document API.
type JWTAuth struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// JWTClaims identifies the ledger owner (sub) and the replica writing (did).
type JWTClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for userID acting through the replica deviceID.
func (j *JWTAuth) GenerateToken(userID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ValidateToken checks signature, expiry and the presence of both identities.
func (j *JWTAuth) ValidateToken(token string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	if _, err := j.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}); err != nil {
		return nil, err
	}
	switch {
	case claims.Subject == "":
		return nil, errors.New("token has no sub (ledger owner)")
	case claims.DeviceID == "":
		return nil, errors.New("token has no did (device)")
	}
	return claims, nil
}

// Principal validates token and returns the caller it names.
func (j *JWTAuth) Principal(token string) (auth.Principal, error) {
	claims, err := j.ValidateToken(token)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return auth.Principal{Owner: claims.Subject, Device: claims.DeviceID}, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("authorization header required")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		p, err := j.Principal(token)
		if err != nil {
			prefix := token
			if len(prefix) > 20 {
				prefix = prefix[:20]
			}
			slog.Warn("Rejected bearer token", "error", err, "token_prefix", prefix)
			writeError(w, http.StatusUnauthorized, "authentication_failed", "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
