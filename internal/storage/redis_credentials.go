package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"famfin/internal/credential"
)

const DefaultRedisKey = "famfin:credential"

// RedisCredentialStore implements credential.Store on one Redis key, shared
// by every machine pointing at the same server. Each mutation is announced on
// a Pub/Sub channel carrying the writer's origin; Watch turns announcements
// from other origins into external changes.
type RedisCredentialStore struct {
	client  *redis.Client
	key     string
	channel string
	origin  string

	credential.Notifier
}

var _ credential.Store = (*RedisCredentialStore)(nil)

// NewRedisCredentialStore connects to redisURL (redis://[user:pass@]host:port/db)
// and checks the server is reachable.
func NewRedisCredentialStore(ctx context.Context, redisURL, key string) (*RedisCredentialStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCredentialStoreFromClient(client, key), nil
}

// NewRedisCredentialStoreFromClient uses an existing client; Close closes it.
func NewRedisCredentialStoreFromClient(client *redis.Client, key string) *RedisCredentialStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCredentialStore{
		client:  client,
		key:     key,
		channel: key + ":changes",
		origin:  uuid.NewString(),
	}
}

func (s *RedisCredentialStore) Close() error {
	return s.client.Close()
}

func (s *RedisCredentialStore) Load(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	return token, nil
}

func (s *RedisCredentialStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return credential.ErrEmptyCredential
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key, token, 0)
		p.Publish(ctx, s.channel, s.origin)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.Notify(credential.Change{Token: token})
	return nil
}

func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key)
		p.Publish(ctx, s.channel, s.origin)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.Notify(credential.Change{Cleared: true})
	return nil
}

// Watch listens for mutations made by other stores on the same key until
// ctx is done.
func (s *RedisCredentialStore) Watch(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so no announcement is missed
	// after Watch is running.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe to %s: %w", s.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if msg.Payload == s.origin {
				continue
			}
			token, err := s.Load(ctx)
			if err != nil {
				continue
			}
			s.Notify(credential.Change{Token: token, Cleared: token == "", External: true})
		}
	}
}
