package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"faceattend/internal/auth"
	"faceattend/internal/model"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Access token commands",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <external-key>",
	Short: "Issue a bearer token for an identity",
	Long: `Issue a signed bearer token for the given external key.

Example:
  faceattend-admin token issue E001 --role admin --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.AccessTTL
		}
		tok, err := auth.Issue(args[0], model.ParseRole(role), cfg.JWTIssuer, cfg.JWTSigningKey, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().String("role", string(model.RoleUser), "Role: user or admin")
	tokenIssueCmd.Flags().Duration("ttl", 0, "Token lifetime (default ACCESS_TTL)")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}
