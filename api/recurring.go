package api

import (
	"errors"
	"net/http"
	"strconv"

	model2 "github.com/blnkfinance/vaultpay/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (a Api) CreateRecurring(c *gin.Context) {
	var newTemplate model2.CreateRecurring
	if err := c.ShouldBindJSON(&newTemplate); err != nil {
		badRequest(c, err)
		return
	}
	if err := newTemplate.ValidateCreateRecurring(); err != nil {
		badRequest(c, err)
		return
	}

	template, err := a.vp.CreateTemplate(c.Request.Context(), actor(c), newTemplate.OrgID, newTemplate.ToTemplateInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

func (a Api) ListRecurring(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		badRequest(c, errors.New("org_id is required"))
		return
	}

	templates, err := a.vp.ListTemplates(c.Request.Context(), actor(c), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// UpcomingRecurring lists active templates due within the next days (default 7).
func (a Api) UpcomingRecurring(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		badRequest(c, errors.New("org_id is required"))
		return
	}
	days := 0
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, errors.New("days must be a non-negative integer"))
			return
		}
		days = parsed
	}

	templates, err := a.vp.UpcomingTemplates(c.Request.Context(), actor(c), orgID, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (a Api) GetRecurring(c *gin.Context) {
	template, err := a.vp.GetTemplate(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

func (a Api) UpdateRecurring(c *gin.Context) {
	var update model2.UpdateRecurring
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err)
		return
	}
	if err := update.ValidateUpdateRecurring(); err != nil {
		badRequest(c, err)
		return
	}

	template, err := a.vp.UpdateTemplate(c.Request.Context(), actor(c), c.Param("id"), update.ToTemplateUpdate())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

func (a Api) CancelRecurring(c *gin.Context) {
	template, err := a.vp.CancelTemplate(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// RunRecurring is the scheduler trigger. The configured auto-execute flag overrides
// the one in the body.
func (a Api) RunRecurring(c *gin.Context) {
	var run model2.RecurringRun
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&run); err != nil {
			badRequest(c, err)
			return
		}
	}

	result, err := a.vp.RunRecurringCron(c.Request.Context(), run.AutoExecute)
	if err != nil {
		logrus.Errorf("recurring run failed: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) RecurringHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"enabled":      a.conf.Recurring.Enabled,
		"auto_execute": a.conf.RecurringAutoExecute(false),
	})
}
