package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/httpx"
)

type ctxKey string

const CtxIdentity ctxKey = "identity"

// BearerToken extracts the token from an Authorization header value.
func BearerToken(h string) (string, bool) {
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

func RequireAuth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		id, err := a.Resolve(c.Request.Context(), tok)
		if err != nil {
			httpx.Fail(c, err)
			c.Abort()
			return
		}

		c.Set(string(CtxIdentity), id)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !MustIdentity(c).IsAdmin {
			httpx.Fail(c, fmt.Errorf("%w: admin only", apperr.ErrForbidden))
			c.Abort()
			return
		}
		c.Next()
	}
}

func MustIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(string(CtxIdentity)); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}
