package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/memory"
)

func TestStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	conv, err := store.Conversations().GetOrCreate(ctx, "c1", "admin-m", "user-a", now)
	require.NoError(t, err)
	for i, st := range []storage.Status{storage.StatusSent, storage.StatusRead} {
		_, err := store.Messages().Insert(ctx, storage.Message{
			ID: []string{"m1", "m2"}[i], ConversationID: conv.ID, SenderID: "user-a", ReceiverID: "admin-m",
			Text: "hi", Status: st, CreatedAt: now,
		})
		require.NoError(t, err)
	}

	r := gin.New()
	g := r.Group("/chat", func(c *gin.Context) {
		c.Set(string(auth.CtxIdentity), auth.Identity{ID: "admin-m", IsAdmin: c.GetHeader("X-Admin") == "1"})
	})
	Register(g, &Service{Store: store})

	req := httptest.NewRequest(http.MethodGet, "/chat/stats", nil)
	req.Header.Set("X-Admin", "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalConversations":1,"totalMessages":2,"unreadMessages":1}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/stats", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
