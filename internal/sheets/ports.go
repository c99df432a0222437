package sheets

import (
	"context"

	"famfin/internal/core"
)

// Row is one exported transaction, with the account resolved to its name.
type Row struct {
	Date        core.Date
	Description string
	Amount      core.Money
	Currency    string
	Type        core.TransactionType
	Category    string
	Account     string
}

// RowFromTransaction builds a Row. Expenses are exported as negative amounts
// so a sheet column sum gives the net flow.
func RowFromTransaction(tx core.Transaction, accountName string) Row {
	amount := tx.Amount
	if tx.Type == core.Expense {
		amount = core.Money{Cents: -amount.Cents}
	}
	if accountName == "" {
		accountName = tx.AccountID
	}
	return Row{
		Date:        tx.Date,
		Description: tx.Description,
		Amount:      amount,
		Currency:    tx.Currency,
		Type:        tx.Type,
		Category:    tx.Category,
		Account:     accountName,
	}
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Rows   int
	Ranges []string
}

// Ports for outbound adapters.
type (
	TransactionExporter interface {
		AppendRows(ctx context.Context, rows []Row) (ExportResult, error)
	}
)
