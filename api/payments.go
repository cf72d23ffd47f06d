package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blnkfinance/vaultpay/api/middleware"
	model2 "github.com/blnkfinance/vaultpay/api/model"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/gin-gonic/gin"
)

func (a Api) CreatePayment(c *gin.Context) {
	var newPayment model2.CreatePayment
	if err := c.ShouldBindJSON(&newPayment); err != nil {
		badRequest(c, err)
		return
	}
	if err := newPayment.ValidateCreatePayment(); err != nil {
		badRequest(c, err)
		return
	}

	payment, err := a.vp.CreatePayment(c.Request.Context(), actor(c), newPayment.OrgID, newPayment.PayeeID, newPayment.Amount, newPayment.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (a Api) ListPayments(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		badRequest(c, errors.New("org_id is required"))
		return
	}

	filter := model.PaymentFilter{OrgID: orgID, Status: model.PaymentStatus(c.Query("status"))}
	var err error
	if limit := c.Query("limit"); limit != "" {
		if filter.Limit, err = strconv.Atoi(limit); err != nil {
			badRequest(c, errors.New("limit must be an integer"))
			return
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if filter.Offset, err = strconv.Atoi(offset); err != nil {
			badRequest(c, errors.New("offset must be an integer"))
			return
		}
	}

	payments, err := a.vp.ListPayments(c.Request.Context(), actor(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func (a Api) GetPayment(c *gin.Context) {
	payment, err := a.vp.GetPayment(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (a Api) UpdatePaymentStatus(c *gin.Context) {
	var update model2.UpdatePaymentStatus
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err)
		return
	}
	if err := update.ValidateUpdatePaymentStatus(); err != nil {
		badRequest(c, err)
		return
	}

	payment, err := a.vp.UpdatePaymentStatus(c.Request.Context(), actor(c), c.Param("id"), update.ToStatusUpdate())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (a Api) CancelPayment(c *gin.Context) {
	payment, err := a.vp.CancelPayment(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment cancelled successfully", "payment_id": payment.PaymentID})
}

// ExecutePayment dispatches one payment, or several when payment_ids is given. The
// sender must be the session wallet.
func (a Api) ExecutePayment(c *gin.Context) {
	var req model2.ExecutePayment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateExecutePayment(); err != nil {
		badRequest(c, err)
		return
	}
	if req.SenderPublicKey != middleware.Wallet(c) {
		respondError(c, apierror.NewAPIError(apierror.ErrForbidden, "sender_public_key must match the authenticated wallet", nil))
		return
	}

	if req.IsBatch() {
		result, err := a.vp.ExecuteBatch(c.Request.Context(), actor(c), req.PaymentIDs, req.SenderPublicKey, req.Transfers)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch": true, "result": result})
		return
	}

	result, err := a.vp.ExecutePayment(c.Request.Context(), actor(c), req.PaymentID, req.Transfer)
	if err != nil {
		respondError(c, err)
		return
	}
	if !result.Success {
		failure := apierror.NewAPIError(apierror.ErrorCode(result.ErrorCode), result.ErrorMessage, nil)
		c.JSON(apierror.MapErrorToHTTPStatus(failure), gin.H{
			"error":   result.ErrorMessage,
			"code":    result.ErrorCode,
			"payment": result,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": result})
}

func (a Api) CreateBatch(c *gin.Context) {
	var batch model2.CreateBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, err)
		return
	}
	if err := batch.ValidateCreateBatch(); err != nil {
		badRequest(c, err)
		return
	}

	result, err := a.vp.CreateBatch(c.Request.Context(), actor(c), batch.OrgID, batch.ToBatchItems(), batch.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a Api) ExecuteBatch(c *gin.Context) {
	var batch model2.ExecuteBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, err)
		return
	}
	if err := batch.ValidateExecuteBatch(); err != nil {
		badRequest(c, err)
		return
	}

	result, err := a.vp.ExecuteBatch(c.Request.Context(), actor(c), batch.PaymentIDs, batch.SenderPublicKey, batch.Transfers)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) GetMPCStatus(c *gin.Context) {
	view, err := a.vp.GetMPCStatus(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// FinalizeMPC polls the computation once, or waits for it when await_finalization
// is set. An empty body polls once.
func (a Api) FinalizeMPC(c *gin.Context) {
	var req model2.FinalizeMPC
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := req.ValidateFinalizeMPC(); err != nil {
		badRequest(c, err)
		return
	}

	result, finalized, err := a.vp.FinalizeMPC(c.Request.Context(), actor(c), c.Param("id"), req.AwaitFinalization, req.Timeout())
	if err != nil {
		respondError(c, err)
		return
	}
	if finalized {
		c.JSON(http.StatusOK, gin.H{"message": "Payment already finalized", "result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
