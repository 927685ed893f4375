package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/granabot/grana/internal/pipeline"
)

func extractCmd() *cobra.Command {
	var (
		tenantID    string
		accountID   string
		imagePath   string
		audioPath   string
		noRetrieval bool
	)

	cmd := &cobra.Command{
		Use:   "extract [message...]",
		Short: "Extract a transaction from a message, receipt image or voice note",
		Example: `  grana extract "gastei 56,89 no mercado"
  grana extract --image receipt.jpg
  grana extract --audio note.ogg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.Request{
				TenantID:         tenantID,
				AccountID:        accountID,
				Text:             strings.Join(args, " "),
				DisableRetrieval: noRetrieval,
			}

			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				req.Image = data
				req.ImageMIME = mimeForPath(imagePath)
			}
			if audioPath != "" {
				data, err := os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("failed to read audio: %w", err)
				}
				req.Audio = data
				req.AudioMIME = mimeForPath(audioPath)
			}

			if req.Text == "" && req.Image == nil && req.Audio == nil {
				return fmt.Errorf("provide a message, --image or --audio")
			}

			a, err := initApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := a.pipeline.Process(cmd.Context(), a.snapshot, req)
			if err != nil {
				return err
			}

			printOutcome(outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant to process for")
	cmd.Flags().StringVar(&accountID, "account", "", "account to resolve categories against")
	cmd.Flags().StringVar(&imagePath, "image", "", "receipt or screenshot image file")
	cmd.Flags().StringVar(&audioPath, "audio", "", "voice note audio file")
	cmd.Flags().BoolVar(&noRetrieval, "no-retrieval", false, "skip the lexical index (fast path and revalidation)")

	return cmd
}

func printOutcome(outcome pipeline.Outcome) {
	switch outcome.Status {
	case pipeline.StatusAutoRegistered:
		fmt.Println(successStyle.Render("✓ Registered"), dimStyle.Render(outcome.TransactionID))
	case pipeline.StatusPendingConfirmation:
		fmt.Println(pendingStyle.Render("? Awaiting confirmation"))
		if outcome.Confirmation != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  confirm with: grana confirm %s --accept", outcome.Confirmation.ID)))
		}
	case pipeline.StatusRejected:
		fmt.Println(errorStyle.Render("✗ Rejected"))
	}
	if outcome.Reason != "" {
		fmt.Println(dimStyle.Render("  " + outcome.Reason))
	}

	r := outcome.Record
	fmt.Printf("\n  %-12s %s\n", "Type:", r.Type)
	fmt.Printf("  %-12s %.2f\n", "Amount:", r.Amount)
	category := r.Category
	if r.SubCategory != "" {
		category += " > " + r.SubCategory
	}
	fmt.Printf("  %-12s %s\n", "Category:", category)
	if r.Merchant != "" {
		fmt.Printf("  %-12s %s\n", "Merchant:", r.Merchant)
	}
	fmt.Printf("  %-12s %s\n", "Date:", r.Date.Format("2006-01-02"))
	fmt.Printf("  %-12s %.0f%%\n", "Confidence:", r.Confidence*100)

	if outcome.FastPath {
		fmt.Println(dimStyle.Render("\n  resolved by the fast path, no provider call"))
	} else if outcome.Match != nil {
		fmt.Println(dimStyle.Render(fmt.Sprintf("\n  category revalidated against the index (score %.2f)", outcome.Match.Score)))
	}
}

func mimeForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(path, ".webp"):
		return "image/webp"
	case strings.HasSuffix(path, ".ogg"), strings.HasSuffix(path, ".oga"):
		return "audio/ogg"
	case strings.HasSuffix(path, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(path, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(path, ".m4a"):
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
