package finance

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"famfin/internal/core"
	"famfin/internal/log"
	"famfin/internal/sheets"
)

// ExportService copies transactions to a spreadsheet exporter.
type ExportService struct {
	accounts     *AccountService
	transactions *TransactionService
	exporter     sheets.TransactionExporter
	logger       *log.Logger
}

func NewExportService(accounts *AccountService, transactions *TransactionService, exporter sheets.TransactionExporter, logger *log.Logger) *ExportService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportService{
		accounts:     accounts,
		transactions: transactions,
		exporter:     exporter,
		logger:       logger.WithComponent(log.ComponentSheets),
	}
}

// Export appends every transaction matching f, oldest first.
func (s *ExportService) Export(ctx context.Context, f core.TransactionFilter) (sheets.ExportResult, error) {
	var (
		accounts []core.Account
		txs      []core.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.accounts.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.transactions.List(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return sheets.ExportResult{}, err
	}

	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Name
	}

	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date.Time) })
	rows := make([]sheets.Row, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, sheets.RowFromTransaction(tx, names[tx.AccountID]))
	}

	res, err := s.exporter.AppendRows(ctx, rows)
	if err != nil {
		s.logger.ErrorContext(ctx, "Export failed", log.FieldOperation, log.OpExport, log.FieldError, err)
		return res, fmt.Errorf("export transactions: %w", err)
	}
	s.logger.InfoContext(ctx, "Transactions exported",
		log.FieldOperation, log.OpExport,
		"rows", res.Rows)
	return res, nil
}
