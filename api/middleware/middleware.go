/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
)

const defaultLimiterTTL = 10 * time.Minute

// openPaths bypass the server key.
var openPaths = map[string]bool{
	"/health": true,
}

// RateLimitMiddleware limits requests per client IP with tollbooth. A config without
// both requests_per_second and burst disables limiting.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	rl := conf.RateLimit
	if rl.RequestsPerSecond == nil || rl.Burst == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := defaultLimiterTTL
	if rl.CleanupIntervalSec != nil && *rl.CleanupIntervalSec > 0 {
		ttl = time.Duration(*rl.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*rl.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*rl.Burst)
	lmt.SetMessage("Too many requests")

	return func(c *gin.Context) {
		if limited := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); limited != nil {
			c.AbortWithStatusJSON(limited.StatusCode, gin.H{"error": limited.Message, "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}

// SecretKeyAuthMiddleware requires the deployment's server key in the X-VaultPay-Key
// header on every route except openPaths.
func SecretKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if openPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		conf, err := config.Fetch()
		if err != nil || conf.Server.SecretKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server key is not configured"})
			return
		}

		switch presented := c.GetHeader(KeyHeader); {
		case presented == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing " + KeyHeader + " header"})
		case !secureCompare(conf.Server.SecretKey, presented):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid server key"})
		default:
			c.Next()
		}
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
