package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edufund/supportchat/backend/internal/apperr"
)

// RemoteVerifier asks the hosted identity provider who owns the token.
type RemoteVerifier struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, string, error) {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", apperr.ErrAuth, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.APIKey != "" {
		req.Header.Set("apikey", v.APIKey)
	}

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", "", fmt.Errorf("%w: %w", apperr.ErrAuth, apperr.ErrTimeout)
		}
		return "", "", fmt.Errorf("%w: identity provider: %v", apperr.ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: identity provider answered %d", apperr.ErrAuth, resp.StatusCode)
	}

	var u remoteUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		if isTimeout(err) {
			return "", "", fmt.Errorf("%w: %w", apperr.ErrAuth, apperr.ErrTimeout)
		}
		return "", "", fmt.Errorf("%w: identity provider payload: %v", apperr.ErrAuth, err)
	}
	return u.ID, u.Email, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
