package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/pkg/sentinel"
)

// NewUserCmd creates the user management command group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operator users",
	}
	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		username string
		password string
		groups   []string
		withKey  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}

			db := sentinel.OpenDatabase()
			defer db.Close()
			users := repository.NewUserRepository(db, nil)

			if existing, err := users.FindByUsername(username); err != nil {
				return err
			} else if existing != nil {
				return fmt.Errorf("user %q already exists", username)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				groups = []string{domain.GroupAnalysts}
			}
			u := &domain.User{
				Username: username,
				Password: string(hash),
				Groups:   strings.Join(groups, ","),
				Enabled:  sql.NullBool{Bool: true, Valid: true},
			}
			if withKey {
				u.ApiKey = sql.NullString{String: uuid.NewString(), Valid: true}
			}
			id, err := users.Save(u)
			if err != nil {
				return err
			}

			fmt.Printf("created user %s (id %d) groups=%s\n", username, id, u.Groups)
			if withKey {
				// shown once, it is not listed again
				fmt.Printf("api key: %s\n", u.ApiKey.String)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username for the new user")
	cmd.Flags().StringVar(&password, "password", "", "password for the new user")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "groups, defaults to Analysts")
	cmd.Flags().BoolVar(&withKey, "api-key", false, "also generate an API key")

	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			db := sentinel.OpenDatabase()
			defer db.Close()
			users := repository.NewUserRepository(db, nil)

			all, err := users.FindAll()
			if err != nil {
				return err
			}
			if all == nil {
				return nil
			}
			for _, u := range *all {
				enabled := "enabled"
				if u.Enabled.Valid && !u.Enabled.Bool {
					enabled = "disabled"
				}
				hasKey := ""
				if u.ApiKey.Valid && u.ApiKey.String != "" {
					hasKey = " api-key"
				}
				fmt.Printf("%d\t%s\t%s\t%s%s\n", u.ID, u.Username, u.Groups, enabled, hasKey)
			}
			return nil
		},
	}
}
