package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"famfin/internal/core"
)

var (
	txFilterFlags filterFlags

	txAccount     string
	txTo          string
	txType        string
	txCategory    string
	txDescription string
	txCurrency    string
	txDate        string
)

// filterFlags are the transaction selection flags shared by list and export.
type filterFlags struct {
	account  string
	kind     string
	category string
	from     string
	to       string
	search   string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.account, "account", "", "Only transactions touching this account ID")
	cmd.Flags().StringVar(&f.kind, "type", "", "income, expense or transfer")
	cmd.Flags().StringVar(&f.category, "category", "", "Category name (case-insensitive)")
	cmd.Flags().StringVar(&f.from, "from", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "Last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.search, "search", "", "Text contained in the description")
}

func (f *filterFlags) filter() (core.TransactionFilter, error) {
	out := core.TransactionFilter{
		AccountID: f.account,
		Type:      core.TransactionType(f.kind),
		Category:  f.category,
		Search:    f.search,
	}
	if f.kind != "" && !out.Type.Valid() {
		return out, fmt.Errorf("%w: %s", core.ErrInvalidTxType, f.kind)
	}
	var err error
	if f.from != "" {
		if out.From, err = core.ParseDate(f.from); err != nil {
			return out, err
		}
	}
	if f.to != "" {
		if out.To, err = core.ParseDate(f.to); err != nil {
			return out, err
		}
	}
	return out, nil
}

var transactionsCmd = &cobra.Command{
	Use:     "transactions",
	Aliases: []string{"tx"},
	Short:   "Manage transactions",
}

var transactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := txFilterFlags.filter()
		if err != nil {
			return err
		}
		txs, err := app.Transactions.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), txs)
		}
		rows := make([][]string, 0, len(txs))
		for _, tx := range txs {
			rows = append(rows, []string{
				tx.ID, tx.Date.String(), string(tx.Type), tx.Amount.Format(tx.Currency), tx.Category, tx.Description,
			})
		}
		return printTable(cmd.OutOrStdout(), []string{"ID", "DATE", "TYPE", "AMOUNT", "CATEGORY", "DESCRIPTION"}, rows)
	},
}

var transactionsAddCmd = &cobra.Command{
	Use:   "add AMOUNT",
	Short: "Record a transaction",
	Example: `  famfin tx add 12.50 --account a1 --category Food --description "Market"
  famfin tx add 500 --type transfer --account a1 --to a2 --description "Savings"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tx, err := transactionFromFlags(args[0], time.Now())
		if err != nil {
			return err
		}
		created, err := app.Transactions.Create(cmd.Context(), tx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), created)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s (%s)\n", created.Type, created.Amount.Format(created.Currency), created.ID)
		return nil
	},
}

var transactionsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Transactions.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted transaction %s\n", args[0])
		return nil
	},
}

// transactionFromFlags builds the transaction described by the add flags.
// The date defaults to today.
func transactionFromFlags(amount string, now time.Time) (core.Transaction, error) {
	cents, err := core.ParseDecimalToCents(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	date := core.NewDate(now.Year(), int(now.Month()), now.Day())
	if txDate != "" {
		if date, err = core.ParseDate(txDate); err != nil {
			return core.Transaction{}, err
		}
	}
	return core.Transaction{
		AccountID:   txAccount,
		ToAccountID: txTo,
		Type:        core.TransactionType(txType),
		Amount:      core.Money{Cents: cents},
		Currency:    strings.ToUpper(txCurrency),
		Category:    txCategory,
		Description: txDescription,
		Date:        date,
	}, nil
}

func init() {
	txFilterFlags.register(transactionsListCmd)

	f := transactionsAddCmd.Flags()
	f.StringVar(&txAccount, "account", "", "Account ID (required)")
	f.StringVar(&txTo, "to", "", "Destination account ID for transfers")
	f.StringVar(&txType, "type", string(core.Expense), "income, expense or transfer")
	f.StringVar(&txCategory, "category", "", "Category")
	f.StringVar(&txDescription, "description", "", "Description (required)")
	f.StringVar(&txCurrency, "currency", "EUR", "ISO currency code")
	f.StringVar(&txDate, "date", "", "Day, YYYY-MM-DD (default today)")
	if err := transactionsAddCmd.MarkFlagRequired("account"); err != nil {
		panic(err)
	}

	transactionsCmd.AddCommand(transactionsListCmd)
	transactionsCmd.AddCommand(transactionsAddCmd)
	transactionsCmd.AddCommand(transactionsDeleteCmd)
}
