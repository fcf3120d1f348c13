package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelwatch/sentinel/internal/controllers"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/pkg/sentinel"
)

// NewTokenCmd creates the token command. It mints a JWT for an existing user
// without going through the login endpoint, which is handy for scripting.
func NewTokenCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}

			db := sentinel.OpenDatabase()
			defer db.Close()
			users := repository.NewUserRepository(db, nil)

			u, err := users.FindByUsername(username)
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("user %q not found", username)
			}
			if u.Enabled.Valid && !u.Enabled.Bool {
				return fmt.Errorf("user %q is disabled", username)
			}

			token, expires, err := controllers.IssueToken(u)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "user to mint the token for")

	return cmd
}
