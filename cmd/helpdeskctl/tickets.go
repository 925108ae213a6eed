package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/app"
)

func newTicketsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Ticket maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "backfill-keys",
		Short: "Assign a ticket_id to tickets with a missing or short one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *app.Container) error {
				updated, err := c.Tickets.BackfillKeys(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backfilled %d ticket ids\n", updated)
				return nil
			})
		},
	})
	return cmd
}

func newSLACommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "SLA maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "autofill",
		Short: "Compute SLA deadlines for open tickets without one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *app.Container) error {
				updated, err := c.SLA.AutofillAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "set SLA on %d tickets\n", updated)
				return nil
			})
		},
	})
	return cmd
}
