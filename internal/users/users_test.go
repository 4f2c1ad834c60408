package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/memory"
)

const adminEmail = "support@edufund.test"

var (
	admin = auth.Identity{ID: "admin-m", Email: adminEmail, IsAdmin: true}
	userA = auth.Identity{ID: "user-a", Email: "ana@example.com"}
	userB = auth.Identity{ID: "user-b", Email: "bo@example.com"}
)

func TestSyncAndList(t *testing.T) {
	d := NewDirectory(memory.New(), adminEmail, "")
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	for _, id := range []auth.Identity{admin, userA, userB} {
		_, err := d.Sync(ctx, id)
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}

	again, err := d.Sync(ctx, userA)
	require.NoError(t, err)
	assert.True(t, again.CreatedAt.Before(again.LastSeenAt), "re-sync keeps created_at")

	list, err := d.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, userB.ID, list[0].ID)

	list, err = d.List(ctx, "ANA")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, userA.ID, list[0].ID)

	_, err = d.Sync(ctx, auth.Identity{ID: "no-email"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestAdminID(t *testing.T) {
	ctx := context.Background()

	id, err := NewDirectory(memory.New(), adminEmail, "configured-admin").AdminID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "configured-admin", id)

	d := NewDirectory(memory.New(), adminEmail, "")
	_, err = d.AdminID(ctx)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = d.Sync(ctx, auth.Identity{ID: "admin-m", Email: "Support@EduFund.test"})
	require.NoError(t, err)
	id, err = d.AdminID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin-m", id)
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := NewDirectory(memory.New(), adminEmail, "")
	r := gin.New()
	g := r.Group("/chat", func(c *gin.Context) {
		if c.GetHeader("X-User") == "admin" {
			c.Set(string(auth.CtxIdentity), admin)
		} else {
			c.Set(string(auth.CtxIdentity), userA)
		}
	})
	Register(g, &Service{Dir: d})

	do := func(method, path, who string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-User", who)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/chat/sync-user", "a")
	require.Equal(t, http.StatusOK, w.Code)
	var u storage.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, userA.Email, u.Email)

	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/chat/users", "a").Code)

	w = do(http.MethodGet, "/chat/users", "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userA.Email)
}

func TestLastSeen(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memory.New(), adminEmail, admin.ID)
	for _, id := range []auth.Identity{admin, userA, userB} {
		_, err := d.Sync(ctx, id)
		require.NoError(t, err)
	}

	_, err := d.LastSeen(ctx, userA, admin.ID)
	assert.NoError(t, err)
	_, err = d.LastSeen(ctx, userA, userA.ID)
	assert.NoError(t, err)
	_, err = d.LastSeen(ctx, admin, userB.ID)
	assert.NoError(t, err)

	_, err = d.LastSeen(ctx, userA, userB.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = d.LastSeen(ctx, admin, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMeBeforeAndAfterSync(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/chat", func(c *gin.Context) { c.Set(string(auth.CtxIdentity), userA) })
	Register(g, &Service{Dir: NewDirectory(memory.New(), adminEmail, "")})

	get := func() map[string]any {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/me", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, false, get()["synced"])

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat/sync-user", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := get()
	assert.Equal(t, true, body["synced"])
	assert.Equal(t, userA.Email, body["email"])
}
