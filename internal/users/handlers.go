package users

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/httpx"
)

type Service struct {
	Dir *Directory
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.POST("/sync-user", s.sync)
	rg.GET("/users", auth.RequireAdmin(), s.list)
	rg.GET("/users/:id/last-seen", s.lastSeen)
	rg.GET("/me", s.me)
}

func (s *Service) sync(c *gin.Context) {
	u, err := s.Dir.Sync(c.Request.Context(), auth.MustIdentity(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, u)
}

func (s *Service) list(c *gin.Context) {
	list, err := s.Dir.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, list)
}

func (s *Service) lastSeen(c *gin.Context) {
	at, err := s.Dir.LastSeen(c.Request.Context(), auth.MustIdentity(c), c.Param("id"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"userId": c.Param("id"), "lastSeenAt": at})
}

// me echoes the resolved identity; synced is false until the first
// POST /sync-user.
func (s *Service) me(c *gin.Context) {
	id := auth.MustIdentity(c)
	out := gin.H{"id": id.ID, "email": id.Email, "isAdmin": id.IsAdmin, "synced": false}

	u, err := s.Dir.Get(c.Request.Context(), id.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		httpx.Fail(c, err)
		return
	default:
		out["synced"] = true
		out["createdAt"] = u.CreatedAt
		out["lastSeenAt"] = u.LastSeenAt
	}
	httpx.OK(c, out)
}
