package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/admin"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/chat"
	"github.com/edufund/supportchat/backend/internal/config"
	"github.com/edufund/supportchat/backend/internal/conversations"
	"github.com/edufund/supportchat/backend/internal/httpx"
	"github.com/edufund/supportchat/backend/internal/logging"
	"github.com/edufund/supportchat/backend/internal/messages"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/users"
)

type RouterParams struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	Auth          auth.Authenticator
	Store         storage.Store
	Conversations *conversations.Directory
	Users         *users.Directory
	Messages      *messages.Service
	Gateway       *chat.Gateway
}

func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(p.Log))

	r.GET("/healthz", health(p.Store))

	root := r.Group("/chat")
	// the socket authenticates with its first frame, not a header
	chat.RegisterWS(root, p.Gateway)

	api := root.Group("", auth.RequireAuth(p.Auth))
	conversations.Register(api, &conversations.Service{
		Dir:       p.Conversations,
		Admin:     p.Users,
		AllowPeer: p.Config.AllowPeerChat,
	})
	messages.Register(api, p.Messages)
	users.Register(api, &users.Service{Dir: p.Users})
	admin.Register(api, &admin.Service{Store: p.Store})

	return r
}

func health(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, gin.H{"status": "ok"})
	}
}
