package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"famfin/internal/amqp"
	"famfin/internal/credential"
	"famfin/internal/log"
)

// SessionWorker keeps the local credential slot in step with logouts that
// happen in other processes.
type SessionWorker struct {
	store  credential.Store
	now    func() time.Time
	logger *log.Logger
}

func NewSessionWorker(store credential.Store, logger *log.Logger) *SessionWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SessionWorker{
		store:  store,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentAuth),
	}
}

// HandleLogoutMessage returns a handler for amqp.Broadcaster.ConsumeLogout
// that clears the slot when a logout arrives.
func (w *SessionWorker) HandleLogoutMessage(ctx context.Context) func(*amqp.LogoutMessage) error {
	return func(msg *amqp.LogoutMessage) error {
		w.logger.InfoContext(ctx, "Processing logout message",
			"message_id", msg.ID,
			"reason", msg.Reason,
			"origin", msg.Origin)

		token, err := w.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load credential: %w", err)
		}
		if token == "" {
			w.logger.DebugContext(ctx, "Credential slot already empty", "message_id", msg.ID)
			return nil
		}

		if err := w.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear credential: %w", err)
		}
		w.logger.InfoContext(ctx, "Credential cleared after remote logout",
			log.FieldOperation, log.OpLogout,
			"message_id", msg.ID)
		return nil
	}
}

// StartupCheck reports the state of the stored credential. An expired
// credential is kept: the next request renews it.
func (w *SessionWorker) StartupCheck(ctx context.Context) (credential.Info, error) {
	token, err := w.store.Load(ctx)
	if err != nil {
		return credential.Info{}, fmt.Errorf("load credential: %w", err)
	}
	if token == "" {
		w.logger.InfoContext(ctx, "No stored credential found on startup")
		return credential.Info{}, credential.ErrEmptyCredential
	}

	info, err := credential.Inspect(token)
	if errors.Is(err, credential.ErrNotJWT) {
		w.logger.InfoContext(ctx, "Stored credential is opaque, expiry unknown")
		return credential.Info{}, nil
	}
	if err != nil {
		return credential.Info{}, err
	}

	if info.Expired(w.now()) {
		w.logger.InfoContext(ctx, "Stored credential expired, it will be renewed on first use",
			"subject", info.Subject,
			"expired_at", info.ExpiresAt.Format(time.RFC3339))
	} else {
		w.logger.InfoContext(ctx, "Stored credential is valid",
			"subject", info.Subject,
			"expires_in", info.ExpiresAt.Sub(w.now()).Round(time.Second))
	}
	return info, nil
}
