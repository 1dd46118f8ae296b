// Package middleware contains Gin middleware for the broker's HTTP
// surface, mirrored from the teacher's own "Gin middleware lives in its
// own package" convention (internal/v1/middleware).
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminAuth gates the admin endpoints behind HTTP Basic Auth, checked
// against password. Authentication itself is out of the core registry's
// scope (spec.md §6); this is the thinnest check that satisfies "admin
// endpoints are not wide open" without introducing a dependency this
// domain's Non-goals don't otherwise justify (no JWT/Auth0 here — see
// DESIGN.md's dropped-dependencies section).
func AdminAuth(password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, pass, ok := c.Request.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="admin"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
