package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/auth/devtoken"
)

func devTokenCommand() *cobra.Command {
	var (
		params    devtoken.Params
		secret    string
		unsigned  bool
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Mint a JWT for local use (HS256 for AUTH_PROVIDER=hmac, unsigned for AUTH_PROVIDER=dev)",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.ExpiresIn = expiresIn
			now := time.Now().UTC()

			var (
				token string
				err   error
			)
			if unsigned {
				token, err = devtoken.BuildUnsigned(params, now)
			} else {
				if secret == "" {
					secret = os.Getenv("AUTH_HMAC_SECRET")
				}
				if secret == "" {
					return errors.New("--secret or AUTH_HMAC_SECRET is required for signed tokens")
				}
				token, err = devtoken.BuildSigned(params, []byte(secret), now)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.TenantID, "tenant-id", "", "tenantId claim (UUID); required unless --admin")
	cmd.Flags().StringVar(&params.UserID, "user-id", "", "sub claim")
	cmd.Flags().StringVar(&params.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&params.IsAdmin, "admin", false, "set isAdmin=true")
	cmd.Flags().StringVar(&params.Issuer, "issuer", "", "iss claim; must match AUTH_ISSUER")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret; defaults to AUTH_HMAC_SECRET")
	cmd.Flags().BoolVar(&unsigned, "unsigned", false, "emit an alg=none token")

	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
