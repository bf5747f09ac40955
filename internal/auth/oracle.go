// Package auth consumes the external identity provider. The sync core only
// needs to know who the current user is and when the session ends; credential
// exchange and token refresh live entirely in the provider.
package auth

import (
	"context"
	"errors"

	"github.com/franciszver/cohort3-challenge2/internal/model"
)

// ErrSignedOut is returned when no session is active.
var ErrSignedOut = errors.New("no active session")

// Oracle answers "who is the current user" and ends sessions.
type Oracle interface {
	CurrentUser(ctx context.Context) (model.User, error)
	Token(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
}

// Static is an Oracle with a fixed user, used in tests and single-user
// deployments where the token is provisioned out of band.
type Static struct {
	User      model.User
	AuthToken string
	signedOut bool
}

func (s *Static) CurrentUser(_ context.Context) (model.User, error) {
	if s.signedOut || s.User.ID == "" {
		return model.User{}, ErrSignedOut
	}
	return s.User, nil
}

func (s *Static) Token(_ context.Context) (string, error) {
	if s.signedOut {
		return "", ErrSignedOut
	}
	return s.AuthToken, nil
}

func (s *Static) SignOut(_ context.Context) error {
	s.signedOut = true
	return nil
}
