// Package users keeps a local copy of identity-provider accounts so support
// can list customers and find the admin's user id.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/storage"
)

type Directory struct {
	repo        storage.UserRepo
	adminEmail  string
	adminUserID string
	now         func() time.Time
}

func NewDirectory(store storage.Store, adminEmail, adminUserID string) *Directory {
	return &Directory{
		repo:        store.Users(),
		adminEmail:  adminEmail,
		adminUserID: adminUserID,
		now:         time.Now,
	}
}

// Sync records the caller. created_at is kept from the first sync.
func (d *Directory) Sync(ctx context.Context, id auth.Identity) (storage.User, error) {
	if id.ID == "" || id.Email == "" {
		return storage.User{}, fmt.Errorf("%w: identity has no email", apperr.ErrInvalidInput)
	}
	now := d.now().UTC()
	return d.repo.Upsert(ctx, storage.User{ID: id.ID, Email: id.Email, CreatedAt: now, LastSeenAt: now})
}

// List returns synced customers, newest first, optionally filtered by an
// email substring. The admin account is never listed.
func (d *Directory) List(ctx context.Context, query string) ([]storage.User, error) {
	all, err := d.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]storage.User, 0, len(all))
	for _, u := range all {
		if strings.EqualFold(u.Email, d.adminEmail) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(u.Email), query) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// AdminID resolves the support agent: ADMIN_USER_ID when configured, else
// the synced account whose email is ADMIN_EMAIL.
func (d *Directory) AdminID(ctx context.Context) (string, error) {
	if d.adminUserID != "" {
		return d.adminUserID, nil
	}
	u, err := d.repo.FindByEmail(ctx, d.adminEmail)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("%w: admin not found", apperr.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// LastSeen reports when target last synced. Customers may only look up
// themselves and the support agent.
func (d *Directory) LastSeen(ctx context.Context, caller auth.Identity, target string) (time.Time, error) {
	if !caller.IsAdmin && caller.ID != target {
		adminID, err := d.AdminID(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if target != adminID {
			return time.Time{}, fmt.Errorf("%w: last seen of another customer", apperr.ErrForbidden)
		}
	}
	u, err := d.repo.Get(ctx, target)
	if err != nil {
		return time.Time{}, err
	}
	return u.LastSeenAt, nil
}

func (d *Directory) Get(ctx context.Context, id string) (storage.User, error) {
	return d.repo.Get(ctx, id)
}
