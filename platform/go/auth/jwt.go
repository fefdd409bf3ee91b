package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func ExtractJWTToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	const prefix = "Bearer "
	// Case-insensitive prefix match.
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(authHeader[len(prefix):]), true
}

// HMACConfig configures self-issued HS256 tokens, used by environments without Firebase.
type HMACConfig struct {
	Secret []byte
	Issuer string
	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// HMACTokenVerifier validates HS256 tokens signed with cfg.Secret.
func HMACTokenVerifier(cfg HMACConfig) VerifyFunc {
	if len(cfg.Secret) == 0 {
		panic("auth.HMACTokenVerifier: secret must not be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return cfg.Secret, nil
		}); err != nil {
			return nil, fmt.Errorf("verify token: %w", err)
		}
		return claims, nil
	}
}

// SignHMAC issues an HS256 token with the given claims; exp and iat are set from ttl.
func SignHMAC(cfg HMACConfig, claims map[string]interface{}, ttl time.Duration, now time.Time) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(ttl).Unix()
	if cfg.Issuer != "" {
		mc["iss"] = cfg.Issuer
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(cfg.Secret)
}
