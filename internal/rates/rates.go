// Package rates fetches exchange rates from the backend and keeps them
// cached until the next daily update.
package rates

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"famfin/internal/apiclient"
	"famfin/internal/cache"
	"famfin/internal/core"
	"famfin/internal/log"
)

const ratesPath = "/exchange-rates"

var ErrInvalidBase = errors.New("invalid base currency")

// NextUpdate returns the first instant strictly after now at hourUTC:00 UTC.
// Rates are published once a day at that hour.
func NextUpdate(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Service serves rates per base currency. Concurrent misses for the same
// base share one backend call.
type Service struct {
	client     *apiclient.Client
	cache      *cache.LRUCache[core.ExchangeRates]
	updateHour int
	now        func() time.Time
	group      singleflight.Group
	logger     *log.Logger
}

func NewService(client *apiclient.Client, cacheSize, updateHourUTC int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	// Entries are stored with SetUntil; the TTL only bounds stray Set calls.
	return &Service{
		client:     client,
		cache:      cache.NewLRUCache[core.ExchangeRates](cacheSize, 24*time.Hour),
		updateHour: updateHourUTC,
		now:        time.Now,
		logger:     logger.WithComponent(log.ComponentRates),
	}
}

// Cache exposes the underlying cache so it can be registered for cleanup.
func (s *Service) Cache() *cache.LRUCache[core.ExchangeRates] {
	return s.cache
}

func normalizeBase(base string) (string, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if len(base) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidBase, base)
	}
	return base, nil
}

// Rates returns cached rates for base, fetching them on a miss.
func (s *Service) Rates(ctx context.Context, base string) (core.ExchangeRates, error) {
	base, err := normalizeBase(base)
	if err != nil {
		return core.ExchangeRates{}, err
	}
	if r, ok := s.cache.Get(base); ok {
		return r, nil
	}
	return s.load(ctx, base)
}

// Refresh fetches rates for base regardless of the cache.
func (s *Service) Refresh(ctx context.Context, base string) (core.ExchangeRates, error) {
	base, err := normalizeBase(base)
	if err != nil {
		return core.ExchangeRates{}, err
	}
	return s.load(ctx, base)
}

// load shares one fetch per base between concurrent callers. The fetch does
// not inherit the starting caller's cancellation.
func (s *Service) load(ctx context.Context, base string) (core.ExchangeRates, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(base, func() (any, error) {
		return s.fetch(detached, base)
	})

	select {
	case <-ctx.Done():
		return core.ExchangeRates{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.ExchangeRates{}, res.Err
		}
		return res.Val.(core.ExchangeRates), nil
	}
}

func (s *Service) fetch(ctx context.Context, base string) (core.ExchangeRates, error) {
	res, err := s.client.Get(ctx, ratesPath, apiclient.WithQuery(url.Values{"base": {base}}))
	if err != nil {
		return core.ExchangeRates{}, fmt.Errorf("fetch exchange rates: %w", err)
	}

	var r core.ExchangeRates
	if err := res.Data().Decode(&r); err != nil {
		return core.ExchangeRates{}, err
	}
	if r.Base == "" {
		r.Base = base
	}
	r.Base = strings.ToUpper(r.Base)
	if r.Base != base {
		return core.ExchangeRates{}, fmt.Errorf("backend returned rates for %s, asked for %s", r.Base, base)
	}

	expires := NextUpdate(s.now(), s.updateHour)
	s.cache.SetUntil(base, r, expires)
	s.logger.InfoContext(ctx, "Exchange rates updated",
		log.FieldCurrency, base,
		"count", len(r.Rates),
		"expires_at", expires)
	return r, nil
}

// Convert expresses m, denominated in from, in to.
func (s *Service) Convert(ctx context.Context, m core.Money, from, to string) (core.Money, error) {
	if strings.EqualFold(from, to) {
		return m, nil
	}
	r, err := s.Rates(ctx, to)
	if err != nil {
		return core.Money{}, err
	}
	return r.Convert(m, from, to)
}
