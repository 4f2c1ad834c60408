package messages

import (
	"github.com/gin-gonic/gin"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/httpx"
)

type sendReq struct {
	ConversationID string `json:"conversationId" binding:"required"`
	ReceiverID     string `json:"receiverId"`
	Message        string `json:"message" binding:"required"`
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/messages/:conversationId", s.list)
	rg.POST("/messages", s.send)
	rg.PUT("/messages/:messageId/read", s.markRead)
	rg.DELETE("/messages/:messageId", s.remove)
}

func (s *Service) send(c *gin.Context) {
	id := auth.MustIdentity(c)
	var req sendReq
	if !httpx.Bind(c, &req) {
		return
	}

	m, err := s.Append(c.Request.Context(), id, req.ConversationID, req.ReceiverID, req.Message)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.Created(c, m)
}

func (s *Service) list(c *gin.Context) {
	id := auth.MustIdentity(c)
	list, err := s.ListFor(c.Request.Context(), id, c.Param("conversationId"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, list)
}

func (s *Service) markRead(c *gin.Context) {
	id := auth.MustIdentity(c)
	m, err := s.MarkRead(c.Request.Context(), id, c.Param("messageId"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, m)
}

func (s *Service) remove(c *gin.Context) {
	id := auth.MustIdentity(c)
	m, err := s.SoftDelete(c.Request.Context(), id, c.Param("messageId"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, m)
}
