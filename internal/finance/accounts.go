package finance

import (
	"context"
	"fmt"

	"famfin/internal/apiclient"
	"famfin/internal/core"
	"famfin/internal/log"
)

const accountsPath = "/accounts"

// AccountUpdate carries the fields to change; nil fields are left alone.
type AccountUpdate struct {
	Name     *string `json:"name,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

type AccountService struct {
	client *apiclient.Client
	logger *log.Logger
}

func NewAccountService(client *apiclient.Client, logger *log.Logger) *AccountService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AccountService{client: client, logger: logger.WithComponent(log.ComponentFinance)}
}

func (s *AccountService) List(ctx context.Context) ([]core.Account, error) {
	accounts, err := decode[[]core.Account](s.client.Get(ctx, accountsPath))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (s *AccountService) Get(ctx context.Context, id string) (core.Account, error) {
	path, err := resourcePath(accountsPath, id)
	if err != nil {
		return core.Account{}, err
	}
	return decode[core.Account](s.client.Get(ctx, path))
}

func (s *AccountService) Create(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, fmt.Errorf("invalid account: %w", err)
	}
	created, err := decode[core.Account](s.client.Post(ctx, accountsPath, a))
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "Account created", log.FieldOperation, log.OpCreate, log.FieldAccountID, created.ID)
	return created, nil
}

func (s *AccountService) Update(ctx context.Context, id string, u AccountUpdate) (core.Account, error) {
	path, err := resourcePath(accountsPath, id)
	if err != nil {
		return core.Account{}, err
	}
	updated, err := decode[core.Account](s.client.Patch(ctx, path, u))
	if err != nil {
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}
	return updated, nil
}

func (s *AccountService) Delete(ctx context.Context, id string) error {
	path, err := resourcePath(accountsPath, id)
	if err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.logger.InfoContext(ctx, "Account deleted", log.FieldOperation, log.OpDelete, log.FieldAccountID, id)
	return nil
}
