// Package admin serves the support agent's dashboard figures.
package admin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/httpx"
	"github.com/edufund/supportchat/backend/internal/storage"
)

type Stats struct {
	TotalConversations int `json:"totalConversations"`
	TotalMessages      int `json:"totalMessages"`
	UnreadMessages     int `json:"unreadMessages"`
}

type Service struct {
	Store storage.Store
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/stats", auth.RequireAdmin(), s.stats)
}

// Collect counts conversations and non-deleted messages.
func (s *Service) Collect(ctx context.Context) (Stats, error) {
	convs, err := s.Store.Conversations().Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	total, unread, err := s.Store.Messages().Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalConversations: convs, TotalMessages: total, UnreadMessages: unread}, nil
}

func (s *Service) stats(c *gin.Context) {
	st, err := s.Collect(c.Request.Context())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, st)
}
