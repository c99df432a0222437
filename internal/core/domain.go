package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	CreditCard AccountType = "credit_card"
	Cash       AccountType = "cash"
	Investment AccountType = "investment"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

type (
	AccountType     string
	TransactionType string

	Date struct {
		time.Time
	}

	Account struct {
		ID       string      `json:"id,omitempty"`
		Name     string      `json:"name"`
		Type     AccountType `json:"type"`
		Currency string      `json:"currency"`
		Balance  Money       `json:"balance"`
		Archived bool        `json:"archived,omitempty"`
	}

	Transaction struct {
		ID          string          `json:"id,omitempty"`
		AccountID   string          `json:"accountId"`
		ToAccountID string          `json:"toAccountId,omitempty"` // transfers only
		Type        TransactionType `json:"type"`
		Amount      Money           `json:"amount"`
		Currency    string          `json:"currency"`
		Category    string          `json:"category,omitempty"`
		Description string          `json:"description"`
		Date        Date            `json:"date"`
	}
)

var (
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyName          = errors.New("empty name")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyAccount       = errors.New("empty account")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidTxType      = errors.New("invalid transaction type")
	ErrSelfTransfer       = errors.New("transfer source and destination must differ")
)

// AccountTypes lists the supported account types in display order.
func AccountTypes() []AccountType {
	return []AccountType{Checking, Savings, CreditCard, Cash, Investment}
}

func (t AccountType) Valid() bool {
	for _, v := range AccountTypes() {
		if t == v {
			return true
		}
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp, keeping only the
// calendar day in UTC.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: expected YYYY-MM-DD", s)
	}
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// InMonth reports whether d falls in the given year and month.
func (d Date) InMonth(year, month int) bool {
	return d.Year() == year && d.Month() == month
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (a Account) Validate() error {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	if !a.Type.Valid() {
		return ErrInvalidAccountType
	}
	if !validCurrency(a.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if !t.Type.Valid() {
		return ErrInvalidTxType
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !validCurrency(t.Currency) {
		return ErrInvalidCurrency
	}
	switch t.Type {
	case Transfer:
		if strings.TrimSpace(t.ToAccountID) == "" {
			return ErrEmptyAccount
		}
		if t.ToAccountID == t.AccountID {
			return ErrSelfTransfer
		}
	default:
		if strings.TrimSpace(t.Category) == "" {
			return ErrEmptyCategory
		}
	}
	return nil
}
