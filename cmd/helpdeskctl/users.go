package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/app"
)

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Account administration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "promote <username> <role>",
		Short:   "Set the role of an account",
		Long:    `Set the helpdesk role of an account. Role is PROJECT_MANAGER, SUPPORT_ENGINEER or ISSUE_REPORTER.`,
		Example: "  helpdeskctl users promote paula PROJECT_MANAGER",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *app.Container) error {
				profile, err := c.Auth.Promote(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], profile.Role.Label())
				return nil
			})
		},
	})
	return cmd
}
