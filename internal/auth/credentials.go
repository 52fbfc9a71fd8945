package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classline/classline/internal/model"
)

// ErrTokenExpired is returned when the stored token's exp claim is past.
var ErrTokenExpired = errors.New("auth token expired")

// Credentials is the identity the core hands to the join handshake. The
// core never issues tokens; it only consumes what the auth collaborator
// stored.
type Credentials struct {
	UserID string
	Role   model.Role
	Token  string
}

// Validate checks the credentials are complete and the token is not
// known-expired. The token is not verified cryptographically — the server
// does that — only its exp claim is read to fail fast before a doomed
// connect.
func (c Credentials) Validate() error {
	if c.UserID == "" || c.Role == "" || c.Token == "" {
		return errors.New("incomplete credentials")
	}
	expired, err := tokenExpired(c.Token)
	if err != nil {
		// Opaque (non-JWT) tokens pass; the server is the authority.
		return nil
	}
	if expired {
		return ErrTokenExpired
	}
	return nil
}

// Provider yields the current credentials. Implementations may read a
// local store or ask the embedding app.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticProvider serves fixed credentials, used by the standalone daemon
// where identity comes from config.
type StaticProvider struct {
	creds Credentials
}

// NewStaticProvider wraps fixed credentials in a Provider.
func NewStaticProvider(userID string, role model.Role, token string) *StaticProvider {
	return &StaticProvider{creds: Credentials{UserID: userID, Role: role, Token: token}}
}

// Credentials returns the fixed credentials after validation.
func (p *StaticProvider) Credentials(context.Context) (Credentials, error) {
	if err := p.creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("stored credentials: %w", err)
	}
	return p.creds, nil
}

func tokenExpired(token string) (bool, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, nil
	}
	return exp.Before(time.Now()), nil
}
