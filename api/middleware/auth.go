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
	"net/http"
	"strings"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	KeyHeader         = "X-VaultPay-Key"
	SessionCookieName = "vaultpay_session"

	walletContextKey = "wallet"
)

// SessionVerifier resolves a session token to the wallet it was issued for.
type SessionVerifier interface {
	VerifySession(token string) (string, error)
}

// WalletAuth requires a valid wallet session, taken from a bearer token or the
// session cookie. The wallet is stored on the context for the handlers.
func WalletAuth(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": apierror.ErrUnauthorized})
			return
		}

		wallet, err := verifier.VerifySession(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": apierror.ErrUnauthorized})
			return
		}

		c.Set(walletContextKey, wallet)
		c.Next()
	}
}

// Wallet returns the authenticated wallet set by WalletAuth.
func Wallet(c *gin.Context) string {
	return c.GetString(walletContextKey)
}

func sessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie
	}
	return ""
}

// CronAuth protects scheduler triggers with the configured cron secret.
func CronAuth(conf *config.Configuration) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := conf.Recurring.CronSecret
		if secret == "" {
			logrus.Error("cron secret is not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Cron secret is not configured"})
			return
		}

		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || !secureCompare(secret, token) {
			logrus.Warn("unauthorized cron request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": apierror.ErrUnauthorized})
			return
		}
		c.Next()
	}
}
