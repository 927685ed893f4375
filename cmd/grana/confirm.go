package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func confirmCmd() *cobra.Command {
	var (
		accept bool
		reject bool
	)

	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Accept or reject a pending transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accept == reject {
				return fmt.Errorf("pass exactly one of --accept or --reject")
			}

			a, err := initApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := a.pipeline.Confirm(cmd.Context(), args[0], accept)
			if err != nil {
				return err
			}

			printOutcome(outcome)
			return nil
		},
	}

	cmd.Flags().BoolVar(&accept, "accept", false, "register the pending transaction")
	cmd.Flags().BoolVar(&reject, "reject", false, "discard the pending transaction")

	return cmd
}
