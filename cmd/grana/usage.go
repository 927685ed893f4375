package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func usageCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show provider usage recorded in the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summaries, err := store.UsageSince(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println(dimStyle.Render(fmt.Sprintf("No usage recorded in the last %s.", since)))
				return nil
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("Provider usage, last %s", since)))
			fmt.Printf("  %-12s %-18s %8s %10s %10s %8s\n", "PROVIDER", "OPERATION", "CALLS", "TOKENS IN", "TOKENS OUT", "FAILED")
			for _, s := range summaries {
				line := fmt.Sprintf("  %-12s %-18s %8d %10d %10d %8d",
					s.Provider, s.Operation, s.Requests, s.TokensIn, s.TokensOut, s.Failures)
				if s.Failures > 0 {
					line = errorStyle.Render(line)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to summarize")
	return cmd
}
