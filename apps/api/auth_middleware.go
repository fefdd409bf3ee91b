package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-commerce/platform/go/auth"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/gcp"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// buildAuthMiddleware constructs the JWT middleware. Tenant claims may carry either the
// tenant id or its slug; slugs are mapped to ids through the resolver.
func buildAuthMiddleware(ctx context.Context, cfg config, resolver *tenant.Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "hmac":
		if cfg.AuthHMACSecret == "" {
			logger.Fatal("AUTH_HMAC_SECRET required when AUTH_PROVIDER=hmac")
		}
		verify = platformauth.HMACTokenVerifier(platformauth.HMACConfig{
			Secret: []byte(cfg.AuthHMACSecret),
			Issuer: cfg.AuthIssuer,
			Leeway: 30 * time.Second,
		})
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	authExtractor := func(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
		creds, err := platformauth.DefaultCredentialExtractor(claims)
		if err != nil {
			return nil, err
		}
		if creds.TenantID == nil || *creds.TenantID == "" {
			if creds.IsAdmin {
				return creds, nil
			}
			return nil, errors.New("tenant claim required")
		}

		// Already an internal UUID? keep it.
		if tid, parseErr := tenant.ParseID(*creds.TenantID); parseErr == nil {
			idStr := tid.String()
			creds.TenantID = &idStr
			return creds, nil
		}

		// Otherwise treat it as the tenant slug.
		t, resolveErr := resolver.ResolveBySlug(context.Background(), *creds.TenantID)
		if resolveErr != nil {
			return nil, resolveErr
		}
		idStr := t.ID.String()
		creds.TenantID = &idStr
		return creds, nil
	}

	return platformauth.JWT(verify, authExtractor)
}
