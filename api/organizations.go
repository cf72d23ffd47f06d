package api

import (
	"net/http"

	model2 "github.com/blnkfinance/vaultpay/api/model"
	"github.com/gin-gonic/gin"
)

func (a Api) CreateOrganization(c *gin.Context) {
	var newOrg model2.CreateOrganization
	if err := c.ShouldBindJSON(&newOrg); err != nil {
		badRequest(c, err)
		return
	}
	if err := newOrg.ValidateCreateOrganization(); err != nil {
		badRequest(c, err)
		return
	}

	org, err := a.vp.CreateOrganization(c.Request.Context(), actor(c), newOrg.Name, newOrg.AdminWallet)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// GetMyOrganization returns the organization administered by the session wallet.
func (a Api) GetMyOrganization(c *gin.Context) {
	org, err := a.vp.GetMyOrganization(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

func (a Api) GetOrganization(c *gin.Context) {
	org, err := a.vp.GetOrganization(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}
