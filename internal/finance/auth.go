package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"famfin/internal/amqp"
	"famfin/internal/apiclient"
	"famfin/internal/credential"
	"famfin/internal/log"
)

var ErrNoAccessToken = errors.New("sign-in response carries no access token")

// LogoutPublisher announces a finished session to other processes.
type LogoutPublisher interface {
	PublishLogout(ctx context.Context, msg *amqp.LogoutMessage) error
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type session struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// AuthService owns the credential lifecycle on explicit user actions. The
// client handles renewal on its own.
type AuthService struct {
	client    *apiclient.Client
	store     credential.Store
	publisher LogoutPublisher
	logger    *log.Logger
}

// NewAuthService creates the service. publisher may be nil.
func NewAuthService(client *apiclient.Client, publisher LogoutPublisher, logger *log.Logger) *AuthService {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuthService{
		client:    client,
		store:     client.Store(),
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentAuth),
	}
}

// SignIn exchanges credentials for a session and stores its access token.
func (s *AuthService) SignIn(ctx context.Context, creds Credentials) (User, error) {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return User{}, errors.New("email and password are required")
	}
	return s.start(ctx, "/auth/login", creds, log.OpSignIn)
}

// SignUp registers a new user and starts a session for it.
func (s *AuthService) SignUp(ctx context.Context, reg Registration) (User, error) {
	if strings.TrimSpace(reg.Name) == "" || strings.TrimSpace(reg.Email) == "" || reg.Password == "" {
		return User{}, errors.New("name, email and password are required")
	}
	return s.start(ctx, "/auth/register", reg, log.OpCreate)
}

func (s *AuthService) start(ctx context.Context, path string, body any, op string) (User, error) {
	// A stale credential would turn a rejected password into a refresh.
	if err := s.store.Clear(ctx); err != nil {
		return User{}, fmt.Errorf("clear previous session: %w", err)
	}

	sess, err := decode[session](s.client.Post(ctx, path, body))
	if err != nil {
		return User{}, err
	}
	if sess.AccessToken == "" {
		return User{}, ErrNoAccessToken
	}
	if err := s.store.Save(ctx, sess.AccessToken); err != nil {
		return User{}, fmt.Errorf("save credential: %w", err)
	}

	s.logger.InfoContext(ctx, "Session started", log.FieldOperation, op, "user_id", sess.User.ID)
	return sess.User, nil
}

// SignOut ends the session. The backend call and the broadcast are best
// effort; only a failure to clear the local slot is returned.
func (s *AuthService) SignOut(ctx context.Context) error {
	if _, err := s.client.Post(ctx, "/auth/logout", nil); err != nil {
		s.logger.WarnContext(ctx, "Backend logout failed", log.FieldOperation, log.OpSignOut, log.FieldError, err)
	}

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}

	s.publish(ctx, amqp.ReasonSignOut)
	s.logger.InfoContext(ctx, "Signed out", log.FieldOperation, log.OpSignOut)
	return nil
}

// PublishForcedLogout broadcasts a logout caused by a failed refresh.
func (s *AuthService) PublishForcedLogout(ctx context.Context) {
	s.publish(ctx, amqp.ReasonRefreshFailed)
}

func (s *AuthService) publish(ctx context.Context, reason string) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No logout publisher configured, skipping broadcast")
		return
	}
	if err := s.publisher.PublishLogout(ctx, amqp.NewLogoutMessage(reason)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to broadcast logout", log.FieldError, err, "reason", reason)
	}
}

// Me returns the signed-in user.
func (s *AuthService) Me(ctx context.Context) (User, error) {
	return decode[User](s.client.Get(ctx, "/auth/me"))
}
