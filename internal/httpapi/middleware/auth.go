package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/carelink-support/internal/auth"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/identity"
)

const PrincipalKey = "principal"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.Principal, error)
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

func unauthorized(c *gin.Context) {
	common.Abort(c, http.StatusUnauthorized, 40101, "not authorized")
}

// AuthRequired admits only principals of the given role. Every failure looks
// the same to the caller.
func AuthRequired(a Authenticator, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearerToken(c)
		if !present || token == "" {
			unauthorized(c)
			return
		}
		p, err := a.Authenticate(c.Request.Context(), token)
		if err != nil || p.Role != role {
			unauthorized(c)
			return
		}
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

func AdminRequired(a Authenticator) gin.HandlerFunc { return AuthRequired(a, auth.RoleAdmin) }

func VisitorRequired(a Authenticator) gin.HandlerFunc { return AuthRequired(a, auth.RoleVisitor) }

// OptionalAuth attaches a principal when a token is sent. A token that is
// sent but invalid is rejected rather than silently ignored.
func OptionalAuth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearerToken(c)
		if !present {
			c.Next()
			return
		}
		if token == "" {
			unauthorized(c)
			return
		}
		p, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			unauthorized(c)
			return
		}
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (identity.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return identity.Principal{}, false
	}
	p, ok := v.(identity.Principal)
	return p, ok
}
