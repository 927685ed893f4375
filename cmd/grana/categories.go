package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/granabot/grana/internal/model"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage the category catalog",
	}

	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesSeedCmd())

	return cmd
}

func categoriesListCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.GetCategories(cmd.Context(), tenantID, "")
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(dimStyle.Render("No categories. Seed some with: grana categories seed <file>"))
				return nil
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("Categories for %s", tenantID)))
			lastCategory := ""
			for _, entry := range entries {
				if entry.CategoryName != lastCategory {
					label := entry.CategoryName
					if entry.TransactionType != "" {
						label += dimStyle.Render(fmt.Sprintf(" (%s)", entry.TransactionType))
					}
					fmt.Printf("  %s\n", label)
					lastCategory = entry.CategoryName
				}
				if entry.SubCategoryName != "" {
					fmt.Printf("    - %s\n", entry.SubCategoryName)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant to list")
	return cmd
}

// catalogFile is the on-disk shape for seeding a tenant's catalog.
type catalogFile struct {
	Categories []struct {
		CategoryID      string `yaml:"categoryId"`
		CategoryName    string `yaml:"categoryName"`
		SubCategoryID   string `yaml:"subCategoryId"`
		SubCategoryName string `yaml:"subCategoryName"`
		AccountID       string `yaml:"accountId"`
		TransactionType string `yaml:"transactionType"`
	} `yaml:"categories"`
}

func categoriesSeedCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Replace the tenant's catalog from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read catalog file: %w", err)
			}

			var file catalogFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse catalog file: %w", err)
			}
			if len(file.Categories) == 0 {
				return fmt.Errorf("no categories found in %s", args[0])
			}

			entries := make([]model.CategoryEntry, 0, len(file.Categories))
			for _, c := range file.Categories {
				if c.CategoryID == "" || c.CategoryName == "" {
					return fmt.Errorf("every category needs categoryId and categoryName")
				}
				entries = append(entries, model.CategoryEntry{
					CategoryID:      c.CategoryID,
					CategoryName:    c.CategoryName,
					SubCategoryID:   c.SubCategoryID,
					SubCategoryName: c.SubCategoryName,
					AccountID:       c.AccountID,
					TransactionType: model.TransactionType(c.TransactionType),
				})
			}

			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.ReplaceCategories(cmd.Context(), tenantID, entries); err != nil {
				return err
			}

			fmt.Println(successStyle.Render(fmt.Sprintf("✓ Seeded %d categories for %s", len(entries), tenantID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant to seed")
	return cmd
}
