// README: Firebase ID token auth middleware; exposes caller uid and role to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridecore/internal/infra"
	"ridecore/internal/types"
)

const (
	ctxCallerUID  = "caller_uid"
	ctxCallerRole = "caller_role"
	roleClaim     = "role"
)

// Auth verifies the bearer token and requires an explicit rider or driver
// role claim. Websocket upgrades may pass the token as ?access_token= since
// browsers cannot set headers on them.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role, _ := token.Claims[roleClaim].(string)
		if !types.Role(role).Valid() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: token has no rider or driver role"})
			return
		}

		c.Set(ctxCallerUID, types.ID(token.UID))
		c.Set(ctxCallerRole, types.Role(role))
		c.Next()
	}
}

func CallerUID(c *gin.Context) types.ID {
	v, _ := c.Get(ctxCallerUID)
	id, _ := v.(types.ID)
	return id
}

func CallerRole(c *gin.Context) types.Role {
	v, _ := c.Get(ctxCallerRole)
	role, _ := v.(types.Role)
	return role
}

// Caller returns the authenticated actor for the request.
func Caller(c *gin.Context) types.Actor {
	return types.Actor{ID: CallerUID(c), Role: CallerRole(c)}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, true
		}
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
