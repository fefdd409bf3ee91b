package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTenantID(t *testing.T) {
	tenant := "tenant-dev"
	firebaseTenant := "tenant-firebase"

	testCases := []struct {
		name   string
		claims map[string]interface{}
		want   *string
	}{
		{
			name:   "platform tenantId claim",
			claims: map[string]interface{}{"tenantId": tenant},
			want:   &tenant,
		},
		{
			name: "firebase tenant claim",
			claims: map[string]interface{}{
				"firebase": map[string]interface{}{"tenant": firebaseTenant},
			},
			want: &firebaseTenant,
		},
		{
			name: "platform claim wins over firebase tenant",
			claims: map[string]interface{}{
				"tenantId": tenant,
				"firebase": map[string]interface{}{"tenant": firebaseTenant},
			},
			want: &tenant,
		},
		{
			name:   "missing tenant",
			claims: map[string]interface{}{},
			want:   nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractTenantID(tc.claims)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}

func TestDefaultCredentialExtractorWithTenantID(t *testing.T) {
	creds, err := DefaultCredentialExtractor(map[string]interface{}{
		"uid":            "user-123",
		"email":          "user@example.com",
		"tenantId":       "tenant-dev",
		"isAdmin":        true,
		"email_verified": true,
	})
	require.NoError(t, err)
	require.NotNil(t, creds.TenantID)
	require.Equal(t, "tenant-dev", *creds.TenantID)
	require.Equal(t, "user-123", creds.ID)
	require.True(t, creds.IsAdmin)
}

func TestDefaultCredentialExtractorRequiresSubject(t *testing.T) {
	_, err := DefaultCredentialExtractor(map[string]interface{}{"email": "x@example.com"})
	require.Error(t, err)

	_, err = DefaultCredentialExtractor(nil)
	require.Error(t, err)
}

func TestUnsignedTokenVerifier(t *testing.T) {
	// {"sub":"dev","tenantId":"t"}
	claims, err := UnsignedTokenVerifier()(context.Background(), "e30.eyJzdWIiOiJkZXYiLCJ0ZW5hbnRJZCI6InQifQ.")
	require.NoError(t, err)
	require.Equal(t, "dev", claims["sub"])
	require.Equal(t, "t", claims["tenantId"])

	_, err = UnsignedTokenVerifier()(context.Background(), "nodots")
	require.Error(t, err)
}
