package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctoring/internal/response"
)

// RequireCapability checks that the LMS token grants the capability.
func RequireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !claims.Can(capability) {
			response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
			return
		}
		c.Next()
	}
}

// RequireAnyCapability checks that the token grants at least one of caps.
func RequireAnyCapability(caps ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		for _, capability := range caps {
			if claims.Can(capability) {
				c.Next()
				return
			}
		}
		response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
	}
}
