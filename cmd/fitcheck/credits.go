package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fitcheck/internal/cli"
	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
)

func creditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show your remaining credits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBalance(a.ledger.Remaining()))
				return err
			})
		},
	}

	cmd.AddCommand(creditsHistoryCmd())
	cmd.AddCommand(creditsGrantCmd())
	return cmd
}

func creditsHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent credit activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.ledger.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderHistory(entries))
				return err
			})
		},
	}
	cmd.Flags().Int("limit", 20, "number of entries to show")
	return cmd
}

func creditsGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "grant N",
		Short:  "Add N credits as a manual adjustment",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return common.NewUserError("N must be a positive whole number.", common.ErrValidation)
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.ledger.Credit(cmd.Context(), n, model.EntryAdjustment, "manual grant"); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if _, err := fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Granted %d credits.", n))); err != nil {
					return err
				}
				_, err := fmt.Fprintln(out, cli.RenderBalance(a.ledger.Remaining()))
				return err
			})
		},
	}
}
