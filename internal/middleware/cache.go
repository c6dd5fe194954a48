package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// NoStore marks responses as uncacheable.
func NoStore() gin.HandlerFunc {
	return cacheControl("no-store")
}

// CacheControl sets a public max-age for responses that may be shared.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return cacheControl(fmt.Sprintf("public, max-age=%d", maxAgeSeconds))
}

func cacheControl(value string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		c.Next()
	}
}
