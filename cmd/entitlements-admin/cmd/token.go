package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a token signed with the server's AUTH_JWT_SECRET",
	Long: `Issue a bearer token signed with the secret the server is configured with.
The secret is read from the same environment variables and config file as the server.

Admin tokens are issued by default. Pass --admin=false with one or more --org flags
to mint a tenant token instead.`,
	RunE: runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().String("subject", "", "User ID carried by the token (default: random)")
	tokenIssueCmd.Flags().String("email", "", "Email carried by the token")
	tokenIssueCmd.Flags().Bool("admin", true, "Grant platform admin rights")
	tokenIssueCmd.Flags().StringSlice("org", nil, "Organization ID the token may access (repeatable)")
	tokenIssueCmd.Flags().Duration("ttl", 0, "Token lifetime (default: AUTH_TOKEN_DURATION)")

	tokenCmd.AddCommand(tokenIssueCmd)
}

// TokenResponse is the structured output of token issue.
type TokenResponse struct {
	Token     string    `json:"token" yaml:"token"`
	Subject   string    `json:"subject" yaml:"subject"`
	IsAdmin   bool      `json:"is_admin" yaml:"is_admin"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is not set")
	}

	subject, _ := cmd.Flags().GetString("subject")
	if subject == "" {
		subject = uuid.NewString()
	}
	email, _ := cmd.Flags().GetString("email")
	isAdmin, _ := cmd.Flags().GetBool("admin")
	orgs, _ := cmd.Flags().GetStringSlice("org")
	for _, o := range orgs {
		if _, err := uuid.Parse(o); err != nil {
			return fmt.Errorf("invalid organization id %q", o)
		}
	}
	if !isAdmin && len(orgs) == 0 {
		return errors.New("a tenant token needs at least one --org")
	}

	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenDuration
	}

	gen := jwt.NewGenerator(jwt.TokenConfig{
		Secret:              cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.JWTIssuer,
		AccessTokenDuration: ttl,
	})
	token, expiresAt, err := gen.GenerateAccessToken(jwt.Subject{
		UserID:        subject,
		Email:         email,
		Organizations: orgs,
		IsAdmin:       isAdmin,
	})
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	out := cmd.OutOrStdout()
	resp := TokenResponse{Token: token, Subject: subject, IsAdmin: isAdmin, ExpiresAt: expiresAt.UTC()}
	if done, err := render(out, resp); done {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
