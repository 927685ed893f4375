package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/granabot/grana/internal/pipeline"
)

func batchCmd() *cobra.Command {
	var (
		tenantID  string
		accountID string
	)

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Extract transactions from a file of messages, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open input file: %w", err)
			}
			defer func() { _ = file.Close() }()

			var messages []string
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				messages = append(messages, line)
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input file: %w", err)
			}
			if len(messages) == 0 {
				return fmt.Errorf("no messages found in %s", args[0])
			}

			a, err := initApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			bar := progressbar.NewOptions(len(messages),
				progressbar.OptionSetDescription("Extracting"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)

			var registered, pending, rejected, failed, fastPath int
			for _, msg := range messages {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}

				outcome, err := a.pipeline.Process(cmd.Context(), a.snapshot, pipeline.Request{
					TenantID:  tenantID,
					AccountID: accountID,
					Text:      msg,
				})
				_ = bar.Add(1)
				if err != nil {
					failed++
					continue
				}

				if outcome.FastPath {
					fastPath++
				}
				switch outcome.Status {
				case pipeline.StatusAutoRegistered:
					registered++
				case pipeline.StatusPendingConfirmation:
					pending++
				case pipeline.StatusRejected:
					rejected++
				}
			}

			fmt.Println(headerStyle.Render("Batch complete"))
			fmt.Printf("  %-14s %d\n", "Registered:", registered)
			fmt.Printf("  %-14s %d\n", "Pending:", pending)
			fmt.Printf("  %-14s %d\n", "Rejected:", rejected)
			if failed > 0 {
				fmt.Println(errorStyle.Render(fmt.Sprintf("  %-14s %d", "Failed:", failed)))
			}
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %d of %d resolved without a provider call", fastPath, len(messages))))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant to process for")
	cmd.Flags().StringVar(&accountID, "account", "", "account to resolve categories against")

	return cmd
}
