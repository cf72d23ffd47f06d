package api

import (
	"errors"
	"net/http"

	model2 "github.com/blnkfinance/vaultpay/api/model"
	"github.com/gin-gonic/gin"
)

func (a Api) CreatePayee(c *gin.Context) {
	var newPayee model2.CreatePayee
	if err := c.ShouldBindJSON(&newPayee); err != nil {
		badRequest(c, err)
		return
	}
	if err := newPayee.ValidateCreatePayee(); err != nil {
		badRequest(c, err)
		return
	}

	payee, err := a.vp.CreatePayee(c.Request.Context(), actor(c), newPayee.OrgID, newPayee.ToPayeeInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payee)
}

func (a Api) ListPayees(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		badRequest(c, errors.New("org_id is required"))
		return
	}

	payees, err := a.vp.ListPayees(c.Request.Context(), actor(c), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payees": payees})
}

func (a Api) GetPayee(c *gin.Context) {
	payee, err := a.vp.GetPayee(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payee)
}

func (a Api) UpdatePayee(c *gin.Context) {
	var update model2.UpdatePayee
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err)
		return
	}
	if err := update.ValidateUpdatePayee(); err != nil {
		badRequest(c, err)
		return
	}

	payee, err := a.vp.UpdatePayee(c.Request.Context(), actor(c), c.Param("id"), update.ToPayeeInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payee)
}

func (a Api) RescreenPayee(c *gin.Context) {
	payee, result, err := a.vp.RescreenPayee(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payee": payee, "screening": result})
}
