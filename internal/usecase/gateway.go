package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"papers-gateway/internal/domain"
)

const (
	msgUserNotFound      = "User not found"
	msgAdminOnly         = "Only admin users can add new users"
	msgRequesterMismatch = "User email does not match token"
	msgOwnSessionsOnly   = "You can only delete your own sessions"
)

type UserStore interface {
	FindUser(ctx context.Context, email string) (domain.User, bool, error)
	UpsertUser(ctx context.Context, user domain.User) error
}

type TokenIssuer interface {
	Issue(email string, isAdmin bool) (string, error)
}

// Relay is the agent-facing side of the gateway; *Bridge implements it.
type Relay interface {
	Send(ctx context.Context, userEmail, sessionID, message string) (string, error)
	DeleteSession(ctx context.Context, userEmail, sessionID string) error
}

// Service implements the gateway operations independent of transport.
// Callers authenticate the bearer token before invoking the protected
// operations and pass the verified identity in.
type Service struct {
	users  UserStore
	tokens TokenIssuer
	relay  Relay
}

type LoginInput struct {
	UserEmail string
}

type LoginOutput struct {
	Token   string
	IsAdmin bool
}

type AddUserInput struct {
	UserEmail    string
	NewUserEmail string
	IsAdmin      bool
}

type MessageInput struct {
	UserEmail string
	SessionID string
	Message   string
}

type MessageOutput struct {
	Reply     string
	SessionID string
}

type DeleteSessionInput struct {
	UserEmail string
	SessionID string
}

func NewService(users UserStore, tokens TokenIssuer, relay Relay) (*Service, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("usecase: token issuer must not be nil")
	}
	if relay == nil {
		return nil, errors.New("usecase: relay must not be nil")
	}
	return &Service{users: users, tokens: tokens, relay: relay}, nil
}

// Login issues a token for an existing user. The admin flag in the token is
// the stored flag at this moment.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginOutput, error) {
	if strings.TrimSpace(in.UserEmail) == "" {
		return LoginOutput{}, newError(ErrorNotFound, msgUserNotFound, nil)
	}
	user, found, err := s.users.FindUser(ctx, in.UserEmail)
	if err != nil {
		return LoginOutput{}, upstream("Login failed", err)
	}
	if !found {
		return LoginOutput{}, newError(ErrorNotFound, msgUserNotFound, nil)
	}
	token, err := s.tokens.Issue(user.Email, user.IsAdmin)
	if err != nil {
		return LoginOutput{}, newError(ErrorInternal, fmt.Sprintf("Login failed: %v", err), err)
	}
	slog.InfoContext(ctx, "user logged in", "user_email", user.Email, "is_admin", user.IsAdmin)
	return LoginOutput{Token: token, IsAdmin: user.IsAdmin}, nil
}

// AddUser creates or overwrites a user record. The requester's admin flag is
// re-read from the store rather than taken from the token, so a demoted
// admin loses the right immediately even while their token is still valid.
// Existing tokens of the target user are left untouched.
func (s *Service) AddUser(ctx context.Context, requester domain.Identity, in AddUserInput) error {
	requesterEmail := in.UserEmail
	if requesterEmail == "" {
		requesterEmail = requester.Email
	}
	if requesterEmail != requester.Email {
		return newError(ErrorForbidden, msgRequesterMismatch, nil)
	}
	if strings.TrimSpace(in.NewUserEmail) == "" {
		return newError(ErrorInvalidInput, "new_user_email is required", nil)
	}

	current, found, err := s.users.FindUser(ctx, requesterEmail)
	if err != nil {
		return upstream("Error adding user", err)
	}
	if !found || !current.IsAdmin {
		slog.WarnContext(ctx, "non-admin attempted to add user", "user_email", requesterEmail, "token_admin", requester.IsAdmin)
		return newError(ErrorForbidden, msgAdminOnly, nil)
	}

	if err := s.users.UpsertUser(ctx, domain.User{Email: in.NewUserEmail, IsAdmin: in.IsAdmin}); err != nil {
		return upstream("Failed to add user", err)
	}
	slog.InfoContext(ctx, "user added", "by", requesterEmail, "user_email", in.NewUserEmail, "is_admin", in.IsAdmin)
	return nil
}

// MessageToAgent relays a message into the caller-named session. The session
// id is passed through untouched; the runtime creates unknown sessions.
func (s *Service) MessageToAgent(ctx context.Context, requester domain.Identity, in MessageInput) (MessageOutput, error) {
	userEmail := in.UserEmail
	if userEmail == "" {
		userEmail = requester.Email
	}
	out := MessageOutput{SessionID: in.SessionID}
	if strings.TrimSpace(in.SessionID) == "" {
		return out, newError(ErrorInvalidInput, "session_id is required", nil)
	}
	if strings.TrimSpace(in.Message) == "" {
		return out, newError(ErrorInvalidInput, "message_to_agent is required", nil)
	}

	reply, err := s.relay.Send(ctx, userEmail, in.SessionID, in.Message)
	if err != nil {
		return out, err
	}
	out.Reply = reply
	return out, nil
}

// DeleteSession deletes one of the caller's own sessions.
func (s *Service) DeleteSession(ctx context.Context, requester domain.Identity, in DeleteSessionInput) error {
	if in.UserEmail != requester.Email {
		return newError(ErrorForbidden, msgOwnSessionsOnly, nil)
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return newError(ErrorInvalidInput, "session_id is required", nil)
	}
	if err := s.relay.DeleteSession(ctx, in.UserEmail, in.SessionID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "session deleted", "user_email", in.UserEmail, "session_id", in.SessionID)
	return nil
}
