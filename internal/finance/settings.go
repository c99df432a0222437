package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"famfin/internal/apiclient"
)

const settingsPath = "/settings"

type Settings struct {
	DisplayName  string `json:"displayName"`
	BaseCurrency string `json:"baseCurrency"`
	Locale       string `json:"locale"`
}

// SettingsUpdate carries the fields to change; nil fields are left alone.
type SettingsUpdate struct {
	DisplayName  *string `json:"displayName,omitempty"`
	BaseCurrency *string `json:"baseCurrency,omitempty"`
	Locale       *string `json:"locale,omitempty"`
}

type SettingsService struct {
	client *apiclient.Client
}

func NewSettingsService(client *apiclient.Client) *SettingsService {
	return &SettingsService{client: client}
}

func (s *SettingsService) Get(ctx context.Context) (Settings, error) {
	settings, err := decode[Settings](s.client.Get(ctx, settingsPath))
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (s *SettingsService) Update(ctx context.Context, u SettingsUpdate) (Settings, error) {
	if u.BaseCurrency != nil {
		code := strings.ToUpper(strings.TrimSpace(*u.BaseCurrency))
		if len(code) != 3 {
			return Settings{}, errors.New("base currency must be a 3-letter ISO code")
		}
		u.BaseCurrency = &code
	}
	settings, err := decode[Settings](s.client.Patch(ctx, settingsPath, u))
	if err != nil {
		return Settings{}, fmt.Errorf("update settings: %w", err)
	}
	return settings, nil
}
