package middleware

import (
	"encoding/base64"
	"testing"
)

func unsignedToken(t *testing.T, payload string) string {
	t.Helper()
	return "header." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".signature"
}
