package finance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"famfin/internal/amqp"
	"famfin/internal/apiclient"
	"famfin/internal/core"
	"famfin/internal/credential"
	"famfin/internal/log"
	"famfin/internal/sheets"
	"famfin/internal/sheets/memory"
)

type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
}

func (r *recorder) record(req *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	return body
}

func (r *recorder) last() (*http.Request, map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.requests)
	return r.requests[n-1], r.bodies[n-1]
}

func (r *recorder) count(method, path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.Method == method && req.URL.Path == path {
			n++
		}
	}
	return n
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newBackend(t *testing.T) (*recorder, *apiclient.Client, *credential.MemoryStore) {
	t.Helper()
	rec := &recorder{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		if body["password"] != "secret" {
			respond(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
			return
		}
		respond(w, http.StatusOK, map[string]any{"data": map[string]any{
			"accessToken": "tok1",
			"user":        map[string]any{"id": "u1", "name": "Ada", "email": body["email"]},
		}})
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		respond(w, http.StatusCreated, map[string]any{
			"accessToken": "tok1",
			"user":        map[string]any{"id": "u2", "name": body["name"], "email": body["email"]},
		})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		respond(w, http.StatusUnauthorized, map[string]any{"message": "no session"})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		respond(w, http.StatusOK, map[string]any{"id": "u1", "name": "Ada", "email": "ada@example.com"})
	})
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		respond(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"id": "a1", "name": "Main", "type": "checking", "currency": "EUR", "balance": 1000.5},
			{"id": "a2", "name": "US", "type": "savings", "currency": "USD", "balance": "200"},
		}})
	})
	mux.HandleFunc("POST /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		body["id"] = "a3"
		respond(w, http.StatusCreated, body)
	})
	mux.HandleFunc("DELETE /api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/transactions", func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		respond(w, http.StatusOK, []map[string]any{
			{"id": "t1", "accountId": "a1", "type": "income", "amount": 2000, "currency": "EUR", "category": "Salary", "description": "Pay", "date": "2025-03-01"},
			{"id": "t2", "accountId": "a1", "type": "expense", "amount": 50, "currency": "EUR", "category": "Food", "description": "Market", "date": "2025-03-04"},
			{"id": "t3", "accountId": "a2", "type": "expense", "amount": 20, "currency": "USD", "category": "Food", "description": "Diner", "date": "2025-03-07"},
			{"id": "t4", "accountId": "a1", "type": "expense", "amount": 99, "currency": "EUR", "category": "Fun", "description": "Concert", "date": "2025-04-01"},
		})
	})
	mux.HandleFunc("PATCH /api/settings", func(w http.ResponseWriter, r *http.Request) {
		body := rec.record(r)
		respond(w, http.StatusOK, map[string]any{"data": map[string]any{
			"displayName": "Ada", "baseCurrency": body["baseCurrency"], "locale": "it-IT",
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := credential.NewMemoryStore("")
	client, err := apiclient.New(apiclient.Options{BaseURL: srv.URL + "/api", Store: store, Logger: log.Discard()})
	if err != nil {
		t.Fatalf("apiclient.New() error = %v", err)
	}
	return rec, client, store
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.LogoutMessage
	err  error
}

func (p *fakePublisher) PublishLogout(_ context.Context, msg *amqp.LogoutMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestAuthService_SignIn(t *testing.T) {
	rec, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "stale")

	auth := NewAuthService(client, nil, nil)
	user, err := auth.SignIn(ctx, Credentials{Email: "ada@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != "u1" || user.Email != "ada@example.com" {
		t.Errorf("unexpected user: %+v", user)
	}
	if tok, _ := store.Load(ctx); tok != "tok1" {
		t.Errorf("stored credential = %q, want tok1", tok)
	}

	req, _ := rec.last()
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("sign-in sent stale credential %q", got)
	}
}

func TestAuthService_SignInRejected(t *testing.T) {
	rec, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "stale")

	auth := NewAuthService(client, nil, nil)
	_, err := auth.SignIn(ctx, Credentials{Email: "ada@example.com", Password: "wrong"})
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("SignIn() error = %v, want ErrUnauthorized", err)
	}
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid credentials" {
		t.Errorf("server message not surfaced: %v", err)
	}
	if n := rec.count(http.MethodPost, "/api/auth/refresh"); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}

	if _, err := auth.SignIn(ctx, Credentials{Email: " "}); err == nil {
		t.Error("expected validation error")
	}
}

func TestAuthService_SignUp(t *testing.T) {
	_, client, store := newBackend(t)
	ctx := context.Background()

	auth := NewAuthService(client, nil, nil)
	user, err := auth.SignUp(ctx, Registration{Name: "Bob", Email: "bob@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.ID != "u2" || user.Name != "Bob" {
		t.Errorf("unexpected user: %+v", user)
	}
	if tok, _ := store.Load(ctx); tok != "tok1" {
		t.Errorf("stored credential = %q, want tok1", tok)
	}
}

func TestAuthService_SignOut(t *testing.T) {
	rec, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")

	pub := &fakePublisher{err: errors.New("broker down")}
	auth := NewAuthService(client, pub, nil)
	if err := auth.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	if tok, _ := store.Load(ctx); tok != "" {
		t.Errorf("credential = %q, want cleared", tok)
	}
	if n := rec.count(http.MethodPost, "/api/auth/logout"); n != 1 {
		t.Errorf("logout calls = %d, want 1", n)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Reason != amqp.ReasonSignOut {
		t.Errorf("unexpected broadcast: %+v", pub.msgs)
	}
}

func TestAuthService_Me(t *testing.T) {
	_, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")

	user, err := NewAuthService(client, nil, nil).Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if user.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", user.Name)
	}
}

func TestAccountService(t *testing.T) {
	rec, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")
	svc := NewAccountService(client, nil)

	accounts, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(accounts) != 2 || accounts[0].Balance.Cents != 100050 || accounts[1].Balance.Cents != 20000 {
		t.Errorf("unexpected accounts: %+v", accounts)
	}

	if _, err := svc.Create(ctx, core.Account{Name: "", Type: core.Cash, Currency: "EUR"}); !errors.Is(err, core.ErrEmptyName) {
		t.Errorf("Create() error = %v, want ErrEmptyName", err)
	}
	if n := rec.count(http.MethodPost, "/api/accounts"); n != 0 {
		t.Errorf("invalid account reached the backend")
	}

	created, err := svc.Create(ctx, core.Account{Name: "Wallet", Type: core.Cash, Currency: "EUR"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "a3" || created.Name != "Wallet" {
		t.Errorf("unexpected account: %+v", created)
	}

	if err := svc.Delete(ctx, "a/3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	req, _ := rec.last()
	if req.URL.EscapedPath() != "/api/accounts/a%2F3" {
		t.Errorf("id not escaped: %s", req.URL.EscapedPath())
	}

	if err := svc.Delete(ctx, ""); !errors.Is(err, ErrMissingID) {
		t.Errorf("Delete(\"\") error = %v, want ErrMissingID", err)
	}
}

func TestTransactionService_List(t *testing.T) {
	rec, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")
	svc := NewTransactionService(client, nil)

	txs, err := svc.List(ctx, core.TransactionFilter{Type: core.Expense, Category: "food"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(txs) != 2 || txs[0].ID != "t2" || txs[1].ID != "t3" {
		t.Errorf("unexpected transactions: %+v", txs)
	}

	req, _ := rec.last()
	q := req.URL.Query()
	if q.Get("type") != "expense" || q.Get("category") != "food" || q.Has("accountId") {
		t.Errorf("unexpected query: %s", req.URL.RawQuery)
	}
}

func TestTransactionService_CreateValidates(t *testing.T) {
	rec, client, _ := newBackend(t)
	svc := NewTransactionService(client, nil)

	_, err := svc.Create(context.Background(), core.Transaction{Type: core.Expense})
	if err == nil || !strings.Contains(err.Error(), "invalid transaction") {
		t.Errorf("Create() error = %v", err)
	}
	if n := rec.count(http.MethodPost, "/api/transactions"); n != 0 {
		t.Errorf("invalid transaction reached the backend")
	}
}

func TestSettingsService_Update(t *testing.T) {
	_, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")
	svc := NewSettingsService(client)

	usd := " usd "
	settings, err := svc.Update(ctx, SettingsUpdate{BaseCurrency: &usd})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if settings.BaseCurrency != "USD" || settings.Locale != "it-IT" {
		t.Errorf("unexpected settings: %+v", settings)
	}

	bad := "euro"
	if _, err := svc.Update(ctx, SettingsUpdate{BaseCurrency: &bad}); err == nil {
		t.Error("expected error for invalid currency")
	}
}

type staticRates struct {
	rates core.ExchangeRates
	err   error
}

func (s staticRates) Rates(context.Context, string) (core.ExchangeRates, error) {
	return s.rates, s.err
}

func TestDashboardService_Summary(t *testing.T) {
	_, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")

	rates := staticRates{rates: core.ExchangeRates{Base: "EUR", Rates: map[string]float64{"USD": 2}}}
	dash := NewDashboardService(NewAccountService(client, nil), NewTransactionService(client, nil), rates, nil)

	s, err := dash.Summary(ctx, 2025, 3, "EUR")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.TotalBalance.Cents != 110050 {
		t.Errorf("TotalBalance = %d, want 110050", s.TotalBalance.Cents)
	}
	if s.Income.Cents != 200000 || s.Expense.Cents != 6000 {
		t.Errorf("Income/Expense = %d/%d, want 200000/6000", s.Income.Cents, s.Expense.Cents)
	}
	if len(s.ByCategory) != 1 || s.ByCategory[0].Name != "Food" {
		t.Errorf("ByCategory = %+v", s.ByCategory)
	}

	failing := NewDashboardService(NewAccountService(client, nil), NewTransactionService(client, nil),
		staticRates{err: errors.New("rates unavailable")}, nil)
	if _, err := failing.Summary(ctx, 2025, 3, "EUR"); err == nil || !strings.Contains(err.Error(), "rates unavailable") {
		t.Errorf("Summary() error = %v", err)
	}
	if _, err := dash.Summary(ctx, 2025, 0, "EUR"); !errors.Is(err, core.ErrInvalidMonth) {
		t.Errorf("Summary() error = %v, want ErrInvalidMonth", err)
	}
}

type failingExporter struct{}

func (failingExporter) AppendRows(context.Context, []sheets.Row) (sheets.ExportResult, error) {
	return sheets.ExportResult{}, errors.New("quota exceeded")
}

func TestExportService_Export(t *testing.T) {
	_, client, store := newBackend(t)
	ctx := context.Background()
	_ = store.Save(ctx, "tok1")
	out := memory.New()
	svc := NewExportService(NewAccountService(client, nil), NewTransactionService(client, nil), out, nil)

	res, err := svc.Export(ctx, core.TransactionFilter{From: core.NewDate(2025, 3, 1), To: core.NewDate(2025, 3, 31)})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Rows != 3 {
		t.Errorf("exported rows = %d, want 3", res.Rows)
	}

	rows := out.Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Description != "Pay" || rows[0].Account != "Main" || rows[0].Amount.Cents != 200000 {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[2].Account != "US" || rows[2].Amount.Cents != -2000 {
		t.Errorf("last row = %+v", rows[2])
	}

	failing := NewExportService(NewAccountService(client, nil), NewTransactionService(client, nil), failingExporter{}, nil)
	if _, err := failing.Export(ctx, core.TransactionFilter{}); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Export() error = %v", err)
	}
}
