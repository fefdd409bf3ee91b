package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/auth"
)

// Params captures the claims of a locally minted token. All fields are provided by
// the caller; no environment variables are read so the builder stays deterministic
// for tooling.
type Params struct {
	TenantID  string        // tenantId claim; required unless IsAdmin
	UserID    string        // sub claim (required)
	Email     string        // email claim (required)
	Name      string        // display name (optional)
	IsAdmin   bool          // isAdmin custom claim for /admin routes
	ExpiresIn time.Duration // relative expiry; default 1h if zero
	Issuer    string        // iss claim; must match the API's AUTH_ISSUER for signed tokens
}

func (p Params) claims() (map[string]interface{}, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, errors.New("email is required")
	}
	if p.TenantID == "" && !p.IsAdmin {
		return nil, errors.New("tenantID is required for non-admin tokens")
	}
	if p.TenantID != "" {
		if _, err := uuid.Parse(p.TenantID); err != nil {
			return nil, fmt.Errorf("tenantID must be a UUID: %w", err)
		}
	}

	claims := map[string]interface{}{
		"sub":            p.UserID,
		"email":          p.Email,
		"email_verified": true,
		"isAdmin":        p.IsAdmin,
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if p.TenantID != "" {
		claims["tenantId"] = p.TenantID
	}
	return claims, nil
}

// BuildSigned returns an HS256 token accepted by auth.HMACTokenVerifier with the
// same secret and issuer.
func BuildSigned(p Params, secret []byte, now time.Time) (string, error) {
	claims, err := p.claims()
	if err != nil {
		return "", err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return auth.SignHMAC(auth.HMACConfig{Secret: secret, Issuer: p.Issuer}, claims, p.ExpiresIn, now)
}

// BuildUnsigned returns a JWT string with alg "none" and no signature, accepted only
// when the API runs with AUTH_PROVIDER=dev.
func BuildUnsigned(p Params, now time.Time) (string, error) {
	claims, err := p.claims()
	if err != nil {
		return "", err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(expiresIn).Unix()
	if p.Issuer != "" {
		claims["iss"] = p.Issuer
	}

	headerSegment, err := encodeSegment(map[string]interface{}{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadSegment, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s.", headerSegment, payloadSegment), nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
