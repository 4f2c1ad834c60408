package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/config"
)

// Identity is the verified caller. It lives only as long as the request or
// the websocket session that resolved it.
type Identity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

// Authenticator turns a bearer token into an Identity.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// Verifier checks a token with one strategy and returns its subject and email.
type Verifier interface {
	Verify(ctx context.Context, token string) (subject, email string, err error)
}

type Resolver struct {
	verifier   Verifier
	adminEmail string
}

var _ Authenticator = (*Resolver)(nil)

func NewResolver(v Verifier, adminEmail string) *Resolver {
	return &Resolver{verifier: v, adminEmail: strings.TrimSpace(adminEmail)}
}

// FromConfig builds the resolver selected by AUTH_MODE.
func FromConfig(cfg config.Config) (*Resolver, error) {
	var v Verifier
	switch cfg.AuthMode {
	case config.AuthDecode:
		if !cfg.AllowInsecureDecode || cfg.Production() {
			return nil, fmt.Errorf("auth mode %q is not enabled", cfg.AuthMode)
		}
		v = DecodeVerifier{}
	case config.AuthSecret:
		v = SecretVerifier{Secret: cfg.JWTSecret}
	case config.AuthRemote:
		v = &RemoteVerifier{
			BaseURL: cfg.AuthProviderURL,
			APIKey:  cfg.AuthProviderKey,
			Timeout: cfg.AuthTimeout,
			Client:  http.DefaultClient,
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
	return NewResolver(v, cfg.AdminEmail), nil
}

func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", apperr.ErrAuth)
	}

	sub, email, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", apperr.ErrAuth)
	}
	if email == "" {
		return Identity{}, fmt.Errorf("%w: token has no email", apperr.ErrAuth)
	}

	return Identity{
		ID:      sub,
		Email:   email,
		IsAdmin: r.adminEmail != "" && strings.EqualFold(email, r.adminEmail),
	}, nil
}
