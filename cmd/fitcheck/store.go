package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fitcheck/internal/cli"
)

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Drive the local sandbox store",
		Long: `Commands that act as the store side of a purchase. Approve ask-to-buy
purchases, deliver transactions made elsewhere, or revoke refunded ones.
Run "fitcheck listen" in another terminal to see them credited.`,
	}

	cmd.AddCommand(storePendingCmd())
	cmd.AddCommand(storeApproveCmd())
	cmd.AddCommand(storeDeliverCmd())
	cmd.AddCommand(storeRevokeCmd())
	return cmd
}

func storePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List purchases awaiting approval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				txns, err := a.sandbox.Pending(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTransactions(txns))
				return err
			})
		},
	}
}

func storeApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve TRANSACTION_ID",
		Short: "Approve a pending purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.sandbox.Approve(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Approved "+args[0]))
				return err
			})
		},
	}
}

func storeDeliverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliver PRODUCT_ID",
		Short: "Deliver a transaction as if bought on another device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unverified, _ := cmd.Flags().GetBool("unverified")
			return withApp(cmd.Context(), func(a *app) error {
				txn, err := a.sandbox.Deliver(cmd.Context(), args[0], !unverified)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
					fmt.Sprintf("Delivered %s as %s (%s)", txn.ProductID, txn.ID, txn.Verification)))
				return err
			})
		},
	}
	cmd.Flags().Bool("unverified", false, "deliver with a receipt that fails verification")
	return cmd
}

func storeRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke TRANSACTION_ID",
		Short: "Revoke (refund) a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.sandbox.Revoke(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Revoked "+args[0]))
				return err
			})
		},
	}
}
