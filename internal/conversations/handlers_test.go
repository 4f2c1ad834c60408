package conversations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/memory"
)

type fixedAdmin string

func (a fixedAdmin) AdminID(context.Context) (string, error) { return string(a), nil }

func router(t *testing.T, allowPeer bool) (*gin.Engine, *Directory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	d := NewDirectory(memory.New())

	r := gin.New()
	g := r.Group("/chat", func(c *gin.Context) {
		switch c.GetHeader("X-User") {
		case "admin":
			c.Set(string(auth.CtxIdentity), admin)
		case "x":
			c.Set(string(auth.CtxIdentity), userX)
		default:
			c.Set(string(auth.CtxIdentity), userA)
		}
	})
	Register(g, &Service{Dir: d, Admin: fixedAdmin(admin.ID), AllowPeer: allowPeer})
	return r, d
}

func do(r http.Handler, method, path, who, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User", who)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateConversation(t *testing.T) {
	r, _ := router(t, false)

	w := do(r, http.MethodPost, "/chat/conversations", "a", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first storage.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.True(t, first.Has(admin.ID))
	assert.True(t, first.Has(userA.ID))

	w = do(r, http.MethodPost, "/chat/conversations", "admin", `{"userId":"user-a"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var again storage.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, first.ID, again.ID, "admin reaches the same conversation")

	w = do(r, http.MethodPost, "/chat/conversations", "admin", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "admin must name a user")

	w = do(r, http.MethodPost, "/chat/conversations", "a", `{"userId":"user-x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "peer chat disabled")
}

func TestCreatePeerConversation(t *testing.T) {
	r, _ := router(t, true)
	w := do(r, http.MethodPost, "/chat/conversations", "a", `{"userId":"user-x"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/chat/conversations", "a", `{"userId":"user-a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no conversation with oneself")
}

func TestListConversations(t *testing.T) {
	r, d := router(t, false)
	_, err := d.GetOrCreate(context.Background(), userA.ID, admin.ID)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/chat/conversations", "x", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(r, http.MethodGet, "/chat/conversations", "admin", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadCount)
}
