package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fitcheck/internal/cli"
	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/purchase"
	"github.com/Veraticus/fitcheck/internal/service"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the credit packs for sale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			retries, _ := cmd.Flags().GetInt("retries")
			return withApp(cmd.Context(), func(a *app) error {
				products, err := loadCatalog(cmd.Context(), a.coordinator, retries)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderCatalog(products))
				return err
			})
		},
	}
	cmd.Flags().Int("retries", 3, "attempts when the store is unreachable")
	return cmd
}

// loadCatalog fetches the catalog, retrying while the store is unavailable.
func loadCatalog(ctx context.Context, c *purchase.Coordinator, attempts int) ([]model.Product, error) {
	var products []model.Product
	err := common.WithRetry(ctx, func() error {
		var err error
		products, err = c.LoadCatalog(ctx)
		return err
	}, service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	})
	return products, err
}

func buyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy [PRODUCT_ID]",
		Short: "Buy a credit pack",
		Long: `Buy a credit pack. Without PRODUCT_ID the available packs are listed
and you pick one. Credits are added once the store verifies the purchase.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBuy,
	}
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runBuy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	skipConfirm, _ := cmd.Flags().GetBool("yes")
	prompter := cli.NewPrompter(cmd.InOrStdin(), out)

	return withApp(ctx, func(a *app) error {
		products, err := loadCatalog(ctx, a.coordinator, 3)
		if err != nil {
			return err
		}
		if len(products) == 0 {
			return errNoProducts
		}

		product, err := pickProduct(ctx, prompter, products, args)
		if err != nil {
			return err
		}

		if !skipConfirm {
			ok, err := prompter.Confirm(ctx, fmt.Sprintf("Buy %s (%d credits) for %s?",
				product.DisplayName, product.Credits, product.DisplayPrice))
			if err != nil {
				return err
			}
			if !ok {
				_, err := fmt.Fprintln(out, cli.FormatInfo("Nothing bought."))
				return err
			}
		}

		outcome, err := a.coordinator.Purchase(ctx, product.ID)
		if _, werr := fmt.Fprintln(out, cli.RenderOutcome(outcome)); werr != nil {
			return werr
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, cli.RenderBalance(a.ledger.Remaining()))
		return err
	})
}

func pickProduct(ctx context.Context, prompter *cli.Prompter, products []model.Product, args []string) (model.Product, error) {
	if len(args) == 1 {
		for _, p := range products {
			if p.ID == args[0] {
				return p, nil
			}
		}
		return model.Product{}, fmt.Errorf("%w: %s", common.ErrProductNotFound, args[0])
	}

	options := make([]string, len(products))
	for i, p := range products {
		options[i] = fmt.Sprintf("%s  %d credits  %s", p.DisplayName, p.Credits, p.DisplayPrice)
	}
	idx, err := prompter.Choose(ctx, "Which pack?", options)
	if err != nil {
		return model.Product{}, err
	}
	return products[idx], nil
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore previous purchases",
		Long: `Resynchronize with the store and list the credit packs you own.
Restoring never adds credits a second time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				summary, err := a.coordinator.Restore(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRestore(summary))
				return err
			})
		},
	}
}
