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

package api

import (
	"errors"
	"net/http"

	"github.com/blnkfinance/vaultpay"
	"github.com/blnkfinance/vaultpay/api/middleware"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/internal/auth"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	vp     *vaultpay.VaultPay
	auth   *auth.Authenticator
	conf   *config.Configuration
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/health", a.Health)

	router.GET("/auth/nonce", a.IssueNonce)
	router.POST("/auth/login", a.Login)

	cron := router.Group("/cron", middleware.CronAuth(a.conf))
	cron.POST("/recurring-payments", a.RunRecurring)
	cron.GET("/recurring-payments", a.RecurringHealth)

	protected := router.Group("/", middleware.WalletAuth(a.auth))

	protected.POST("/organizations", a.CreateOrganization)
	protected.GET("/organizations", a.GetMyOrganization)
	protected.GET("/organizations/:id", a.GetOrganization)

	protected.POST("/payees", a.CreatePayee)
	protected.GET("/payees", a.ListPayees)
	protected.GET("/payees/:id", a.GetPayee)
	protected.PATCH("/payees/:id", a.UpdatePayee)
	protected.POST("/payees/:id/screen", a.RescreenPayee)

	protected.POST("/payments", a.CreatePayment)
	protected.GET("/payments", a.ListPayments)
	protected.POST("/payments/execute", a.ExecutePayment)
	protected.POST("/payments/batch", a.CreateBatch)
	protected.POST("/payments/batch/execute", a.ExecuteBatch)
	protected.GET("/payments/:id", a.GetPayment)
	protected.PATCH("/payments/:id", a.UpdatePaymentStatus)
	protected.DELETE("/payments/:id", a.CancelPayment)
	protected.GET("/payments/:id/mpc-status", a.GetMPCStatus)
	protected.POST("/payments/:id/mpc-status", a.FinalizeMPC)

	protected.POST("/recurring", a.CreateRecurring)
	protected.GET("/recurring", a.ListRecurring)
	protected.GET("/recurring/upcoming", a.UpcomingRecurring)
	protected.GET("/recurring/:id", a.GetRecurring)
	protected.PATCH("/recurring/:id", a.UpdateRecurring)
	protected.DELETE("/recurring/:id", a.CancelRecurring)

	return a.router
}

func NewAPI(vp *vaultpay.VaultPay, authenticator *auth.Authenticator) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := vp.Config()
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{vp: vp, auth: authenticator, conf: conf, router: r}
}

func actor(c *gin.Context) model.Actor {
	return model.WalletActor(middleware.Wallet(c))
}

// respondError writes an engine error with the status its code maps to.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	body := gin.H{"error": err.Error(), "code": apierror.CodeOf(err)}

	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		body["error"] = apiErr.Message
		if details, ok := apiErr.Details.(map[string]interface{}); ok {
			body["details"] = details
		}
	}
	if status == http.StatusInternalServerError {
		body["error"] = "Internal server error"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apierror.ErrInvalidInput})
}
