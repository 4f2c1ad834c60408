package conversations

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/httpx"
)

// AdminLocator finds the support agent's user id.
type AdminLocator interface {
	AdminID(ctx context.Context) (string, error)
}

type Service struct {
	Dir       *Directory
	Admin     AdminLocator
	AllowPeer bool
}

type createReq struct {
	UserID string `json:"userId" binding:"omitempty,max=128"`
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/conversations", s.listMine)
	rg.POST("/conversations", s.createOrGet)
}

func (s *Service) listMine(c *gin.Context) {
	id := auth.MustIdentity(c)
	list, err := s.Dir.Summaries(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, list)
}

func (s *Service) createOrGet(c *gin.Context) {
	id := auth.MustIdentity(c)
	var req createReq
	// empty body is allowed: a user without a target talks to support
	if c.Request.ContentLength != 0 && !httpx.Bind(c, &req) {
		return
	}

	target, err := s.target(c.Request.Context(), id, req.UserID)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	conv, err := s.Dir.GetOrCreate(c.Request.Context(), id.ID, target)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, conv)
}

func (s *Service) target(ctx context.Context, id auth.Identity, requested string) (string, error) {
	if id.IsAdmin {
		if requested == "" {
			return "", fmt.Errorf("%w: userId is required", apperr.ErrInvalidInput)
		}
		return requested, nil
	}

	adminID, err := s.Admin.AdminID(ctx)
	if err != nil {
		return "", err
	}
	if requested == "" || requested == adminID {
		return adminID, nil
	}
	if !s.AllowPeer {
		return "", fmt.Errorf("%w: users may only open a conversation with support", apperr.ErrForbidden)
	}
	return requested, nil
}
