package finance

import (
	"context"
	"fmt"
	"net/url"

	"famfin/internal/apiclient"
	"famfin/internal/core"
	"famfin/internal/log"
)

const transactionsPath = "/transactions"

type TransactionService struct {
	client *apiclient.Client
	logger *log.Logger
}

func NewTransactionService(client *apiclient.Client, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionService{client: client, logger: logger.WithComponent(log.ComponentFinance)}
}

func filterQuery(f core.TransactionFilter) url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("accountId", f.AccountID)
	set("type", string(f.Type))
	set("category", f.Category)
	set("from", f.From.String())
	set("to", f.To.String())
	set("search", f.Search)
	return q
}

// List asks the backend for matching transactions and applies the filter
// again locally, since the backend may ignore criteria it does not support.
func (s *TransactionService) List(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	var opts []apiclient.Option
	if q := filterQuery(f); len(q) > 0 {
		opts = append(opts, apiclient.WithQuery(q))
	}
	txs, err := decode[[]core.Transaction](s.client.Get(ctx, transactionsPath, opts...))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return core.FilterTransactions(txs, f), nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	path, err := resourcePath(transactionsPath, id)
	if err != nil {
		return core.Transaction{}, err
	}
	return decode[core.Transaction](s.client.Get(ctx, path))
}

func (s *TransactionService) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}
	created, err := decode[core.Transaction](s.client.Post(ctx, transactionsPath, tx))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction created",
		log.FieldOperation, log.OpCreate,
		log.FieldAccountID, created.AccountID,
		log.FieldAmountCents, created.Amount.Cents,
		log.FieldCurrency, created.Currency)
	return created, nil
}

func (s *TransactionService) Update(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	path, err := resourcePath(transactionsPath, tx.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}
	updated, err := decode[core.Transaction](s.client.Put(ctx, path, tx))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	return updated, nil
}

func (s *TransactionService) Delete(ctx context.Context, id string) error {
	path, err := resourcePath(transactionsPath, id)
	if err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction deleted", log.FieldOperation, log.OpDelete, "transaction_id", id)
	return nil
}
