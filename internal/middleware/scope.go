package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctoring/internal/cache"
	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
)

// CacheScopes gives each request a fresh request cache and, for
// authenticated requests, the session cache of the caller's LMS session.
// The acting user is attached so remote failures are attributed.
func CacheScopes(rdb *redis.Client, requestTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := cache.Begin(c.Request.Context(), cache.NewMemory(requestTTL))
		if claims := GetClaims(c); claims != nil {
			if rdb != nil {
				ctx = cache.WithSession(ctx, cache.NewRedis(rdb, config.CacheKey.SessionNamespace(claims.SessionID)))
			}
			ctx = proctor.WithActor(ctx, claims.UserID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
