package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/ledger"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect account balances and transactions",
	Long:  "Commands for reading the double-entry ledger: balances, entry history, and transaction validation.",
}

// -- ledger balance --

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance <account-type> <account-id>",
	Short: "Show an account's net balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := ledger.NewEngine(st, cfg.Ledger)
		balance, err := engine.Balance(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "ledger balance")
		}

		fmt.Printf("%s/%s: %d cents\n", args[0], args[1], balance)
		return nil
	},
}

// -- ledger history --

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history <account-type> <account-id>",
	Short: "List an account's ledger entries, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")

		engine := ledger.NewEngine(st, cfg.Ledger)
		entries, err := engine.History(ctx, args[0], args[1], limit)
		if err != nil {
			return eris.Wrap(err, "ledger history")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No ledger entries found.")
			return nil
		}

		formatLedgerHistory(os.Stdout, entries)
		return nil
	},
}

// -- ledger validate --

var ledgerValidateCmd = &cobra.Command{
	Use:   "validate <transaction-id>",
	Short: "Check that a transaction's debits equal its credits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		txID, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "ledger validate: parse id")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := ledger.NewEngine(st, cfg.Ledger)
		if err := engine.ValidateTransaction(ctx, txID); err != nil {
			return eris.Wrap(err, "ledger validate")
		}

		fmt.Printf("Transaction %s is balanced.\n", truncateID(txID.String()))
		return nil
	},
}

func init() {
	ledgerHistoryCmd.Flags().Int("limit", 50, "max entries to display")

	ledgerCmd.AddCommand(ledgerBalanceCmd)
	ledgerCmd.AddCommand(ledgerHistoryCmd)
	ledgerCmd.AddCommand(ledgerValidateCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// formatLedgerHistory writes a tabular entry list to w.
func formatLedgerHistory(out io.Writer, entries []*model.LedgerEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TRANSACTION\tTYPE\tSIDE\tAMOUNT\tDESCRIPTION\tCREATED")
	_, _ = fmt.Fprintln(w, "-----------\t----\t----\t------\t-----------\t-------")

	for _, e := range entries {
		desc := e.Description
		if len(desc) > 36 {
			desc = desc[:33] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(e.TransactionID.String()),
			e.TransactionType,
			e.EntryType,
			e.AmountCents,
			desc,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
