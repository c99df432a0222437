package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"famfin/internal/amqp"
	"famfin/internal/credential"
)

func TestSessionWorker_HandleLogoutMessage(t *testing.T) {
	ctx := context.Background()
	store := credential.NewMemoryStore("tok")
	w := NewSessionWorker(store, nil)

	var changes []credential.Change
	unsubscribe := store.Subscribe(func(c credential.Change) { changes = append(changes, c) })
	defer unsubscribe()

	handle := w.HandleLogoutMessage(ctx)
	if err := handle(amqp.NewLogoutMessage(amqp.ReasonSignOut)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if token, _ := store.Load(ctx); token != "" {
		t.Errorf("slot not cleared: %q", token)
	}

	// A second logout on an empty slot is a no-op.
	if err := handle(amqp.NewLogoutMessage(amqp.ReasonRefreshFailed)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(changes) != 1 || !changes[0].Cleared {
		t.Errorf("changes = %+v, want one clear", changes)
	}
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestSessionWorker_StartupCheck(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		w := NewSessionWorker(credential.NewMemoryStore(""), nil)
		if _, err := w.StartupCheck(ctx); !errors.Is(err, credential.ErrEmptyCredential) {
			t.Errorf("StartupCheck() error = %v, want ErrEmptyCredential", err)
		}
	})

	t.Run("opaque", func(t *testing.T) {
		w := NewSessionWorker(credential.NewMemoryStore("opaque"), nil)
		if _, err := w.StartupCheck(ctx); err != nil {
			t.Errorf("StartupCheck() error = %v", err)
		}
	})

	t.Run("expired is kept", func(t *testing.T) {
		store := credential.NewMemoryStore(signed(t, now.Add(-time.Hour)))
		w := NewSessionWorker(store, nil)
		w.now = func() time.Time { return now }

		info, err := w.StartupCheck(ctx)
		if err != nil {
			t.Fatalf("StartupCheck() error = %v", err)
		}
		if !info.Expired(now) || info.Subject != "user-1" {
			t.Errorf("info = %+v", info)
		}
		if token, _ := store.Load(ctx); token == "" {
			t.Error("expired credential was cleared")
		}
	})

	t.Run("valid", func(t *testing.T) {
		w := NewSessionWorker(credential.NewMemoryStore(signed(t, now.Add(time.Hour))), nil)
		w.now = func() time.Time { return now }

		info, err := w.StartupCheck(ctx)
		if err != nil || info.Expired(now) {
			t.Errorf("StartupCheck() = %+v, %v", info, err)
		}
	})
}
