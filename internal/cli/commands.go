package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/ledger"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Creates or updates the schema. Migrations also run on every server start; this is for provisioning ahead of a deploy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return opts.print(cmd.OutOrStdout(),
				map[string]string{"status": "migrated", "driver": a.DB.Dialect().String()},
				"Schema is up to date ("+a.DB.Dialect().String()+").")
		},
	}
}

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reap lapsed claims and resolve closed auctions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, fmt.Sprintf(
				"Bounties: %d reclaimed, %d expired\nShowings: %d awarded, %d cancelled, %d failed",
				res.Bounties.Reclaimed, res.Bounties.Expired,
				res.Showings.Awarded, res.Showings.Cancelled, res.Showings.Failed))
		},
	}
}

func newTopupCmd(opts *options) *cobra.Command {
	var reference string
	cmd := &cobra.Command{
		Use:   "topup <account-id> <amount>",
		Short: "Credit an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			balance, err := a.Ledger.Credit(cmd.Context(), args[0], amount, ledger.ReasonTopup, reference)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(),
				map[string]any{"account_id": args[0], "balance": balance},
				fmt.Sprintf("Credited %d; balance is now %d.", amount, balance))
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "marketctl", "reference recorded on the ledger entry")
	return cmd
}

func newBalanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show an account's balance and recent entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			balance, err := a.Ledger.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entries, err := a.Ledger.Entries(cmd.Context(), args[0], 10)
			if err != nil {
				return err
			}
			if opts.isJSON() {
				return opts.print(cmd.OutOrStdout(), map[string]any{"balance": balance, "entries": entries}, "")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Balance: %d\n", balance)
			for _, e := range entries {
				fmt.Fprintf(out, "  %s  %+6d  %-15s %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Delta, e.Reason, e.Reference)
			}
			return nil
		},
	}
}

func newReconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <account-id>",
		Short: "Verify the ledger entries sum to the stored balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			balance, err := a.Ledger.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(),
				map[string]any{"account_id": args[0], "balance": balance, "consistent": true},
				fmt.Sprintf("OK: balance %d matches ledger.", balance))
		},
	}
}

func newPromoteCmd(opts *options) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "promote <email>",
		Short: "Change an account's role (default admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := account.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			creds, err := a.Accounts.Credentials(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := a.Accounts.SetRole(cmd.Context(), creds.ID, r); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(),
				map[string]string{"account_id": creds.ID, "role": role},
				fmt.Sprintf("Account %s is now %s.", args[0], role))
		},
	}
	cmd.Flags().StringVar(&role, "role", string(account.RoleAdmin), "role to assign (buyer|agent|admin)")
	return cmd
}
