package finance

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"famfin/internal/core"
	"famfin/internal/log"
)

// RatesProvider returns exchange rates quoted against base.
type RatesProvider interface {
	Rates(ctx context.Context, base string) (core.ExchangeRates, error)
}

type DashboardService struct {
	accounts     *AccountService
	transactions *TransactionService
	rates        RatesProvider
	logger       *log.Logger
}

func NewDashboardService(accounts *AccountService, transactions *TransactionService, rates RatesProvider, logger *log.Logger) *DashboardService {
	if logger == nil {
		logger = log.Discard()
	}
	return &DashboardService{
		accounts:     accounts,
		transactions: transactions,
		rates:        rates,
		logger:       logger.WithComponent(log.ComponentFinance),
	}
}

// Summary fetches accounts, the month's transactions and rates concurrently
// and aggregates them in the base currency.
func (s *DashboardService) Summary(ctx context.Context, year, month int, base string) (core.Summary, error) {
	if month < 1 || month > 12 {
		return core.Summary{}, core.ErrInvalidMonth
	}

	first := core.NewDate(year, month, 1)
	filter := core.TransactionFilter{
		From: first,
		To:   core.Date{Time: first.AddDate(0, 1, -1)},
	}

	var (
		accounts []core.Account
		txs      []core.Transaction
		rates    core.ExchangeRates
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.accounts.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.transactions.List(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		rates, err = s.rates.Rates(gctx, base)
		if err != nil {
			return fmt.Errorf("get exchange rates: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Summary{}, err
	}

	summary, err := core.Summarize(accounts, txs, rates, year, month)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summarize: %w", err)
	}

	s.logger.DebugContext(ctx, "Dashboard summary computed",
		log.FieldYear, year,
		log.FieldMonth, month,
		log.FieldCurrency, summary.Currency,
		log.FieldDuration, time.Since(start).Milliseconds())
	return summary, nil
}
