package core

import (
	"fmt"
	"strings"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// TypeBalance is the converted balance of all accounts of one type.
type TypeBalance struct {
	Type    AccountType
	Balance Money
}

// Summary is the dashboard view for one year+month, in the base currency.
type Summary struct {
	Year         int
	Month        int // 1-12
	Currency     string
	TotalBalance Money
	ByType       []TypeBalance
	Income       Money
	Expense      Money
	Net          Money
	ByCategory   []CategoryAmount // expenses, in first-seen order
	Accounts     int
	Transactions int
}

// Summarize aggregates balances of active accounts and the month's income
// and expenses, converting every amount into rates.Base. Transfers move
// money between the user's own accounts and are excluded from income and
// expense.
func Summarize(accounts []Account, txs []Transaction, rates ExchangeRates, year, month int) (Summary, error) {
	if month < 1 || month > 12 {
		return Summary{}, ErrInvalidMonth
	}
	s := Summary{Year: year, Month: month, Currency: rates.Base}

	byType := make(map[AccountType]Money)
	for _, a := range accounts {
		if a.Archived {
			continue
		}
		converted, err := rates.Convert(a.Balance, a.Currency, rates.Base)
		if err != nil {
			return Summary{}, fmt.Errorf("convert balance of account %s: %w", a.ID, err)
		}
		s.TotalBalance = s.TotalBalance.Add(converted)
		byType[a.Type] = byType[a.Type].Add(converted)
		s.Accounts++
	}
	for _, t := range AccountTypes() {
		if b, ok := byType[t]; ok {
			s.ByType = append(s.ByType, TypeBalance{Type: t, Balance: b})
		}
	}

	catIndex := make(map[string]int)
	for _, tx := range txs {
		if !tx.Date.InMonth(year, month) || tx.Type == Transfer {
			continue
		}
		converted, err := rates.Convert(tx.Amount, tx.Currency, rates.Base)
		if err != nil {
			return Summary{}, fmt.Errorf("convert transaction %s: %w", tx.ID, err)
		}
		s.Transactions++

		switch tx.Type {
		case Income:
			s.Income = s.Income.Add(converted)
		case Expense:
			s.Expense = s.Expense.Add(converted)
			name := tx.Category
			if i, ok := catIndex[name]; ok {
				s.ByCategory[i].Amount = s.ByCategory[i].Amount.Add(converted)
			} else {
				catIndex[name] = len(s.ByCategory)
				s.ByCategory = append(s.ByCategory, CategoryAmount{Name: name, Amount: converted})
			}
		}
	}
	s.Net = s.Income.Sub(s.Expense)
	return s, nil
}

// TransactionFilter selects transactions. Zero-valued fields match anything;
// From and To are inclusive.
type TransactionFilter struct {
	AccountID string
	Type      TransactionType
	Category  string
	From      Date
	To        Date
	Search    string
}

// Match reports whether tx satisfies every set criterion. A transfer matches
// AccountID on either side.
func (f TransactionFilter) Match(tx Transaction) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID && tx.ToAccountID != f.AccountID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Category != "" && !strings.EqualFold(tx.Category, f.Category) {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To.Time) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(tx.Description), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// FilterTransactions returns the matching transactions in their original order.
func FilterTransactions(txs []Transaction, f TransactionFilter) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	return out
}
