package api

import (
	"net/http"
	"time"

	"github.com/blnkfinance/vaultpay/api/middleware"
	"github.com/blnkfinance/vaultpay/internal/auth"
	"github.com/gin-gonic/gin"
)

func (a Api) IssueNonce(c *gin.Context) {
	nonce, err := a.auth.IssueNonce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	issuedAt := time.Now().UTC()
	c.JSON(http.StatusOK, gin.H{
		"nonce":      nonce,
		"issued_at":  issuedAt.Format(time.RFC3339Nano),
		"expires_at": issuedAt.Add(a.auth.NonceTTL()).Format(time.RFC3339Nano),
	})
}

func (a Api) Login(c *gin.Context) {
	var login auth.Login
	if err := c.ShouldBindJSON(&login); err != nil {
		badRequest(c, err)
		return
	}

	session, err := a.auth.Login(c.Request.Context(), login)
	if err != nil {
		respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, session.Token, int(session.ExpiresInSeconds), "/", "", a.conf.Server.SSL, true)
	c.JSON(http.StatusOK, session)
}
